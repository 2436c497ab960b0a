package actor

import (
	"fmt"

	beepit "github.com/julianarecha/beepit-server"
)

// State is the lifecycle state of a connection.
//
//	Connecting -> Open -> Draining -> Closed
//
// Closed is terminal; a reconnect creates a new Actor.
type State int32

const (
	Connecting State = iota
	Open
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// CloseReason is the WebSocket close code and text sent to the peer.
type CloseReason struct {
	Code int
	Text string
}

func (r CloseReason) String() string {
	if r.Text == "" {
		return fmt.Sprintf("%d", r.Code)
	}
	return fmt.Sprintf("%d %s", r.Code, r.Text)
}

// maxCloseText is the longest close reason a control frame can carry.
const maxCloseText = 123

func (r CloseReason) truncated() CloseReason {
	if len(r.Text) > maxCloseText {
		r.Text = r.Text[:maxCloseText]
	}
	return r
}

var (
	ReasonNormal       = CloseReason{Code: beepit.CloseNormal, Text: "normal closure"}
	ReasonPeerGone     = CloseReason{Code: beepit.CloseGoingAway, Text: "peer went away"}
	ReasonShutdown     = CloseReason{Code: beepit.CloseGoingAway, Text: beepit.ErrShuttingDown}
	ReasonWriteFailed  = CloseReason{Code: beepit.CloseInternalError, Text: "write failed"}
	ReasonInternal     = CloseReason{Code: beepit.CloseInternalError, Text: "internal error"}
	reasonProtocolBase = CloseReason{Code: beepit.CloseProtocolError}
)
