package mqtt

import (
	"encoding/json"
	"time"
)

// Presence states published on the retained service status topic. The
// broker itself publishes presenceLost via the last-will registration,
// so watchers can distinguish a crash from a clean shutdown.
const (
	presenceOnline   = "online"
	presenceShutdown = "offline"
	presenceLost     = "lost"
)

// presenceMessage is the retained service status payload.
type presenceMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Timestamp string `json:"timestamp"`
}

// presencePayload encodes a presence message for the given state. The
// LWT variant is built at connect time, so its timestamp records when
// the will was registered, not when the broker fired it.
func presencePayload(clientID, status string) []byte {
	payload, err := json.Marshal(presenceMessage{
		Status:    status,
		ClientID:  clientID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// The struct contains only strings; Marshal cannot fail.
		return nil
	}
	return payload
}
