package connection

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/astromechza/boardsync/pkg/protocol"
)

// Joiner sends the join request itself; api.Client satisfies it.
type Joiner interface {
	Join(ctx context.Context, boardID, passphrase string) (protocol.JoinStatus, error)
}

// Admission runs the join handshake. A pending request is followed on its own
// short-lived channel until the board answers it.
type Admission struct {
	joiner  Joiner
	manager *Manager
	user    string
}

func NewAdmission(joiner Joiner, manager *Manager, user string) *Admission {
	return &Admission{joiner: joiner, manager: manager, user: user}
}

// Join returns ACCEPTED, REJECTED or WRONG_PASSPHRASE. It never returns
// PENDING; it waits for the decision instead, or for ctx to end.
func (a *Admission) Join(ctx context.Context, boardID, passphrase string) (protocol.JoinStatus, error) {
	status, err := a.joiner.Join(ctx, boardID, passphrase)
	if err != nil {
		return "", fmt.Errorf("failed to join board: %w", err)
	}
	if status != protocol.JoinPending {
		return status, nil
	}
	a.manager.log.Info("join request pending", "board", boardID)
	return a.awaitDecision(ctx, boardID)
}

func (a *Admission) awaitDecision(ctx context.Context, boardID string) (protocol.JoinStatus, error) {
	conn, err := a.manager.dial(ctx, "boards", boardID, "requests", a.user)
	if err != nil {
		return "", fmt.Errorf("failed to follow join request: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("failed to read join decision: %w", err)
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		status, err := protocol.DecodeSessionStatus(p)
		if err != nil {
			a.manager.log.Warn("skipping frame on request channel", "err", err)
			continue
		}
		a.manager.log.Info("join request answered", "board", boardID, "status", status)
		return status, nil
	}
}
