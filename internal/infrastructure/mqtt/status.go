package mqtt

import (
	"encoding/json"
	"time"
)

// Status reasons.
const (
	ReasonShutdown   = "graceful_shutdown"
	ReasonConnection = "unexpected_disconnect"
)

// Status is the retained payload on {prefix}/status. The broker
// publishes the offline form as the last will.
type Status struct {
	Online    bool      `json:"online"`
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(clientID string, online bool, reason string) []byte {
	s := Status{Online: online, Status: "offline", ClientID: clientID, Reason: reason, Timestamp: time.Now().UTC()}
	if online {
		s.Status = "online"
	}
	b, _ := json.Marshal(s) //nolint:errcheck // plain struct
	return b
}
