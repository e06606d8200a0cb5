package ecs

import "errors"

var (
	ErrDuplicateEntity = errors.New("entity already exists")
	ErrInvalidEntity   = errors.New("entity has no id")
)
