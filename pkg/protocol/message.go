package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Codec errors.
var (
	ErrNoPayload      = errors.New("protocol: message has no payload")
	ErrMissingType    = errors.New("protocol: payload has no type field")
	ErrUnknownPayload = errors.New("protocol: unknown payload type")
)

// Message is the wire envelope carried on every connection.
type Message struct {
	// ID identifies the message. Assigned by the sender if empty.
	ID string

	// ReplyToID is set on replies and routes the message to the pending
	// request registered under that id instead of the normal dispatch path.
	ReplyToID string

	// Payload is the typed message body.
	Payload Payload

	// AwaitingResponse marks a message whose sender expects a reply, so
	// intermediary layers know to hold a corresponding response until all
	// peers have replied.
	AwaitingResponse bool
}

// Payload is one variant of the closed payload union.
type Payload interface {
	// PayloadType returns the wire discriminant for this variant.
	PayloadType() string
}

// New builds a message around the given payload with a fresh id.
func New(p Payload) *Message {
	return &Message{ID: uuid.NewString(), Payload: p}
}

// NewReply builds a reply to the given message.
func NewReply(to *Message, p Payload) *Message {
	return &Message{ID: uuid.NewString(), ReplyToID: to.ID, Payload: p}
}

// IsReply reports whether the message is a reply to an earlier request.
func (m *Message) IsReply() bool {
	return m.ReplyToID != ""
}

// Type returns the payload type, or "" for a message without payload.
func (m *Message) Type() string {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.PayloadType()
}

// envelope is the JSON shape of Message with the payload left raw.
type envelope struct {
	ID               string          `json:"id"`
	ReplyToID        string          `json:"replyToId,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	AwaitingResponse bool            `json:"awaitingResponse,omitempty"`
}

// Marshal encodes a message to its wire form. The payload's type
// discriminant is injected into the payload object.
func Marshal(m *Message) ([]byte, error) {
	if m.Payload == nil {
		return nil, ErrNoPayload
	}
	body, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s payload: %w", m.Type(), err)
	}
	tagged, err := injectType(body, m.Payload.PayloadType())
	if err != nil {
		return nil, err
	}
	return json.Marshal(&envelope{
		ID:               m.ID,
		ReplyToID:        m.ReplyToID,
		Payload:          tagged,
		AwaitingResponse: m.AwaitingResponse,
	})
}

// Unmarshal decodes a wire frame into a message. The payload variant is
// selected by its "type" field through the registry; unknown types are an
// error, never a silent success.
func Unmarshal(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if len(env.Payload) == 0 {
		return nil, ErrNoPayload
	}
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(env.Payload, &tag); err != nil {
		return nil, fmt.Errorf("protocol: decode payload tag: %w", err)
	}
	if tag.Type == "" {
		return nil, ErrMissingType
	}
	payload, ok := NewPayload(tag.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, tag.Type)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return nil, fmt.Errorf("protocol: decode %s payload: %w", tag.Type, err)
	}
	return &Message{
		ID:               env.ID,
		ReplyToID:        env.ReplyToID,
		Payload:          payload,
		AwaitingResponse: env.AwaitingResponse,
	}, nil
}

// injectType splices `"type":"…"` into an encoded payload object.
func injectType(body []byte, typ string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 2 || trimmed[0] != '{' {
		return nil, fmt.Errorf("protocol: payload %q does not encode to an object", typ)
	}
	tag, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(trimmed)+len(tag)+9)
	out = append(out, '{')
	out = append(out, `"type":`...)
	out = append(out, tag...)
	if !bytes.Equal(trimmed, []byte("{}")) {
		out = append(out, ',')
		out = append(out, trimmed[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}
