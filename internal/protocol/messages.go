package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request is one outbound action and its body.
type Request struct {
	Action string
	Body   RequestBody
	// WriteID correlates put/merge requests with caller-side write tracking. It is
	// never sent on the wire.
	WriteID int64
}

// RequestBody is the "b" object of an outbound data message.
type RequestBody struct {
	Path  string          `json:"p,omitempty"`
	Data  json.RawMessage `json:"d,omitempty"`
	Hash  string          `json:"h,omitempty"`
	Tag   *int            `json:"t,omitempty"`
	Query map[string]any  `json:"q,omitempty"`
	Cred  string          `json:"cred,omitempty"`
	Stats map[string]int  `json:"c,omitempty"`
}

// Response is the body of a reply to a numbered request.
type Response struct {
	Status string          `json:"s"`
	Data   json.RawMessage `json:"d,omitempty"`
}

func (r Response) OK() bool {
	return r.Status == StatusOK
}

// Err converts a non-ok response into a *ServerError.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	return NewServerError(r.Status, r.message())
}

func (r Response) message() string {
	if len(r.Data) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(r.Data, &text); err == nil {
		return text
	}
	return string(r.Data)
}

// Message is one inbound data message. RequestNumber is set for replies to a
// numbered request and nil for unsolicited pushes.
type Message struct {
	RequestNumber *int
	Action        string
	Body          MessageBody
}

// MessageBody is the union of reply and push bodies.
type MessageBody struct {
	Status  string          `json:"s,omitempty"`
	Path    *string         `json:"p,omitempty"`
	Tag     *int            `json:"t,omitempty"`
	Query   json.RawMessage `json:"q,omitempty"`
	Data    json.RawMessage `json:"d,omitempty"`
	Message string          `json:"msg,omitempty"`
}

func (m Message) IsResponse() bool {
	return m.RequestNumber != nil
}

// Response views the body of a reply.
func (m Message) Response() Response {
	return Response{Status: m.Body.Status, Data: m.Body.Data}
}

// Handshake is the server greeting that marks a transport as ready.
type Handshake struct {
	Timestamp int64  `json:"ts"`
	Version   string `json:"v"`
	Host      string `json:"h"`
	SessionID string `json:"s"`
}

// Control is one inbound control frame.
type Control struct {
	Type      string
	Handshake *Handshake
	// Payload is the raw "d" of non-handshake control frames (redirect host,
	// shutdown reason, error text).
	Payload json.RawMessage
}

// Text decodes a string payload, falling back to the raw bytes.
func (c Control) Text() string {
	var text string
	if err := json.Unmarshal(c.Payload, &text); err == nil {
		return text
	}
	return strings.TrimSpace(string(c.Payload))
}

// Frame is a decoded inbound frame: exactly one of Data or Control is set.
type Frame struct {
	Data    *Message
	Control *Control
}

func NewTag(tag int) *int {
	return &tag
}

func (r Request) Validate() error {
	switch r.Action {
	case ActionListen, ActionUnlisten:
		if r.Body.Path == "" {
			return fmt.Errorf("%w: %s missing path", ErrInvalidRequest, r.Action)
		}
	case ActionPut, ActionMerge, ActionOnDisconnectPut, ActionOnDisconnectMerge:
		if r.Body.Path == "" {
			return fmt.Errorf("%w: %s missing path", ErrInvalidRequest, r.Action)
		}
		if len(r.Body.Data) == 0 {
			return fmt.Errorf("%w: %s missing data", ErrInvalidRequest, r.Action)
		}
	case ActionOnDisconnectCancel:
		if r.Body.Path == "" {
			return fmt.Errorf("%w: %s missing path", ErrInvalidRequest, r.Action)
		}
	case ActionAuth:
		if strings.TrimSpace(r.Body.Cred) == "" {
			return fmt.Errorf("%w: auth missing credential", ErrInvalidRequest)
		}
	case ActionUnauth, ActionStats:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, r.Action)
	}
	return nil
}
