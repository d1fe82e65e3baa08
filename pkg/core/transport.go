package core

// TransportType identifies which underlying channel carries the connection.
type TransportType int

const (
	// TransportNativeSocket is a native WebSocket connection.
	TransportNativeSocket TransportType = iota
	// TransportLongPoll is the HTTP long-polling fallback channel.
	TransportLongPoll
)

// String returns the wire name of the transport type.
func (t TransportType) String() string {
	return [...]string{
		"native-socket",
		"long-poll",
	}[t]
}
