package ecs

import (
	"maps"
	"slices"
	"strconv"
)

type EntityID uint64

func (id EntityID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Fields is the open-ended record an entity carries. Components are nothing
// more than the presence of particular keys.
type Fields map[string]any

// KindField names the discriminator every replicated entity carries.
const KindField = "type"

// Entity is identified by pointer: PatchEntity merges into the same value so
// references held by systems and queries stay valid.
type Entity struct {
	id     EntityID
	fields Fields
}

func NewEntity(id EntityID, fields Fields) *Entity {
	e := &Entity{id: id, fields: make(Fields, len(fields))}
	maps.Copy(e.fields, fields)
	delete(e.fields, "id")
	return e
}

func (e *Entity) ID() EntityID { return e.id }

func (e *Entity) Get(key string) (any, bool) {
	v, ok := e.fields[key]
	return v, ok
}

func (e *Entity) Set(key string, value any) {
	if key == "id" {
		return
	}
	e.fields[key] = value
}

func (e *Entity) Delete(key string) { delete(e.fields, key) }

// Has reports whether every key is present.
func (e *Entity) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := e.fields[k]; !ok {
			return false
		}
	}
	return true
}

func (e *Entity) Kind() string {
	s, _ := e.fields[KindField].(string)
	return s
}

// Float reads a numeric field regardless of the concrete number type it was
// stored or decoded as.
func (e *Entity) Float(key string) (float64, bool) {
	switch v := e.fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (e *Entity) String(key string) (string, bool) {
	s, ok := e.fields[key].(string)
	return s, ok
}

// Fields returns a shallow copy including the id.
func (e *Entity) Fields() Fields {
	out := make(Fields, len(e.fields)+1)
	maps.Copy(out, e.fields)
	out["id"] = uint64(e.id)
	return out
}

// Keys returns the field names in sorted order.
func (e *Entity) Keys() []string {
	return slices.Sorted(maps.Keys(e.fields))
}

func (e *Entity) merge(fields Fields) {
	for k, v := range fields {
		if k == "id" {
			continue
		}
		e.fields[k] = v
	}
}

// Component is a named bundle of fields. An entity has the component when
// every key is present.
type Component struct {
	Name string
	Keys []string
}

func NewComponent(name string, keys ...string) Component {
	return Component{Name: name, Keys: keys}
}

func (e *Entity) HasComponent(c Component) bool { return e.Has(c.Keys...) }
