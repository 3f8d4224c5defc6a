package realtime

import (
	"encoding/json"
	"errors"
)

// Command is one decoded inbound control message. The set is closed: only
// the types in this file implement it.
type Command interface {
	command()
}

type Subscribe struct{ AnalysisID string }
type Unsubscribe struct{ AnalysisID string }

// Ping carries the client's timestamp verbatim so it can be echoed back
// whatever its JSON type.
type Ping struct{ Timestamp json.RawMessage }

type StatusRequest struct{}

// Unknown is any message whose type is not recognised.
type Unknown struct{ Type string }

func (Subscribe) command()     {}
func (Unsubscribe) command()   {}
func (Ping) command()          {}
func (StatusRequest) command() {}
func (Unknown) command()       {}

// Decode parses one raw inbound frame. Only malformed JSON is an error; valid
// JSON without a usable string type decodes as Unknown.
func Decode(raw []byte) (Command, error) {
	if !json.Valid(raw) {
		return nil, errors.New("decode control message: invalid JSON")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Unknown{}, nil
	}
	typ, ok := stringField(fields, "type")
	if !ok {
		return Unknown{Type: string(fields["type"])}, nil
	}
	analysisID, _ := stringField(fields, "analysis_id")
	switch typ {
	case "subscribe":
		return Subscribe{AnalysisID: analysisID}, nil
	case "unsubscribe":
		return Unsubscribe{AnalysisID: analysisID}, nil
	case "ping":
		return Ping{Timestamp: fields["timestamp"]}, nil
	case "status":
		return StatusRequest{}, nil
	default:
		return Unknown{Type: typ}, nil
	}
}

// stringField reads key as a string. A missing key or null reads as "".
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", true
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	if v == nil {
		return "", true
	}
	return *v, true
}

// Reply messages sent back to the originating connection.

type SubscriptionReply struct {
	Type       string `json:"type"`
	AnalysisID string `json:"analysis_id"`
	ClientID   string `json:"client_id,omitempty"`
	Message    string `json:"message"`
}

type PongReply struct {
	Type       string          `json:"type"`
	Timestamp  json.RawMessage `json:"timestamp"`
	ServerTime string          `json:"server_time"`
}

type StatusReply struct {
	Type     string `json:"type"`
	Stats    Stats  `json:"connection_stats"`
	ClientID string `json:"client_id"`
}

type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HeartbeatMessage keeps idle connections alive and surfaces dead ones.
type HeartbeatMessage struct {
	Type         string `json:"type"`
	Timestamp    string `json:"timestamp"`
	ServerStatus string `json:"server_status"`
}

// AdminBroadcast is what the admin channel fans out to every client.
type AdminBroadcast struct {
	Type        string          `json:"type"`
	MessageType string          `json:"message_type"`
	Content     json.RawMessage `json:"content"`
	Timestamp   string          `json:"timestamp"`
}
