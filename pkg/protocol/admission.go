package protocol

import (
	"encoding/json"
	"fmt"
)

// JoinStatus is the server's answer to a join request.
type JoinStatus string

const (
	JoinAccepted        JoinStatus = "ACCEPTED"
	JoinRejected        JoinStatus = "REJECTED"
	JoinWrongPassphrase JoinStatus = "WRONG_PASSPHRASE"
	JoinPending         JoinStatus = "PENDING"
)

const (
	TypeSessionAccepted = "SESSION_ACCEPTED"
	TypeSessionRejected = "SESSION_REJECTED"
)

type JoinRequestBody struct {
	Passphrase string `json:"passphrase,omitempty"`
}

type JoinResponse struct {
	Status JoinStatus `json:"status"`
}

// DecodeSessionStatus reads a frame from the request-status channel and maps
// it onto the final join status.
func DecodeSessionStatus(raw []byte) (JoinStatus, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("failed to decode envelope: %w", err)
	}
	switch env.Type {
	case TypeSessionAccepted:
		return JoinAccepted, nil
	case TypeSessionRejected:
		return JoinRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
