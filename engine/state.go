package engine

import "strconv"

// State is the lifecycle stage of a Connection.
//
//	Connecting ──▶ HandshakeSent ──▶ Ready ──▶ Closing ──▶ Closed
//	     └──────────────┴──────────────┴──────────────────────▲
//
// Any state moves to Closed on transport error, explicit Close, a received
// Close frame or a liveness timeout. Closed is terminal.
type State int32

const (
	Connecting State = iota
	// HandshakeSent means the handshake is in flight. On the accepting side it
	// covers the wait for the peer's request.
	HandshakeSent
	Ready
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case HandshakeSent:
		return "HandshakeSent"
	case Ready:
		return "Ready"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Role tells which side of the handshake a Connection played.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)
