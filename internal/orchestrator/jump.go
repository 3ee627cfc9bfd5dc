package orchestrator

import (
	"sync"

	"github.com/tOgg1/jumpshell/internal/pool"
	"github.com/tOgg1/jumpshell/internal/session"
)

type jumpPhase int

const (
	phasePending jumpPhase = iota
	phaseConnecting
	phaseConnected
	phaseFailed
	phaseDone
)

func (p jumpPhase) String() string {
	switch p {
	case phasePending:
		return "pending"
	case phaseConnecting:
		return "connecting"
	case phaseConnected:
		return "connected"
	case phaseFailed:
		return "failed"
	case phaseDone:
		return "done"
	}
	return "unknown"
}

// jumpHost is one shared jump host connection and the slot pool that bounds
// the tunnels opened through it.
type jumpHost struct {
	key     string
	label   string
	session *session.Session
	pool    *pool.Pool

	mu           sync.Mutex
	state        jumpPhase
	failure      error
	keepingAlive bool
}

func (j *jumpHost) phase() jumpPhase {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *jumpHost) setPhase(p jumpPhase) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = p
}

// fail moves the entry to the failed phase. A nil err is reported as a lost
// connection.
func (j *jumpHost) fail(err error) {
	if err == nil {
		err = &session.ConnectError{Kind: session.KindConnectionLost, Message: session.MsgConnectionLost}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failure = err
	j.state = phaseFailed
}

func (j *jumpHost) err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failure
}

func (j *jumpHost) beginKeepalive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.keepingAlive {
		return false
	}
	j.keepingAlive = true
	return true
}

func (j *jumpHost) endKeepalive() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.keepingAlive = false
}
