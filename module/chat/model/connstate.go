package model

// ConnState is the lifecycle state of the transport connection. It is owned
// exclusively by the transport; every other component only observes it
// through dispatched events.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnError
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnError:
		return "error"
	}
	return "unknown"
}
