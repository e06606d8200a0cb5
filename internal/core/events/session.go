package events

// Session lifecycle events published by the server. Data is a Session.
const (
	SessionConnected    = "session.connected"
	SessionSpawned      = "session.spawned"
	SessionDisconnected = "session.disconnected"
)

// Session identifies a client connection in bus events.
type Session struct {
	ID         string
	RemoteAddr string
}
