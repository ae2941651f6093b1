package session

import (
	"sync"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// desyncPreprocessor sits on a client's send path and handles
// user-exclusive traffic. A message targeted at a specific user is dropped
// for every other client; while the client's own user identity is still
// unknown, such messages are held back and flushed in arrival order once
// the identity resolves.
type desyncPreprocessor struct {
	client *Client

	mu   sync.Mutex
	held []*protocol.Message
	ids  map[string]struct{}
}

func newDesyncPreprocessor(c *Client) *desyncPreprocessor {
	return &desyncPreprocessor{
		client: c,
		ids:    make(map[string]struct{}),
	}
}

func (d *desyncPreprocessor) BeforeSend(msg *protocol.Message) *protocol.Message {
	rule := RuleFor(msg.Type())
	if rule.Client.TargetUser == nil {
		return msg
	}
	target, ok := rule.Client.TargetUser(msg.Payload)
	if !ok {
		return msg
	}
	user := d.client.UserID()
	if user == "" {
		d.mu.Lock()
		d.held = append(d.held, msg)
		d.ids[msg.ID] = struct{}{}
		d.mu.Unlock()
		return nil
	}
	if target != user {
		return nil
	}
	return msg
}

func (d *desyncPreprocessor) BeforeRecv(msg *protocol.Message) *protocol.Message {
	return msg
}

// holds reports whether a message is currently deferred, which lets the
// relay watcher tell a hold-back apart from a real cancellation.
func (d *desyncPreprocessor) holds(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[messageID]
	return ok
}

// flush re-sends held messages in order. The preprocessor sees each one
// again on the way out; with the user now resolved they pass or drop on
// the target check.
func (d *desyncPreprocessor) flush() {
	d.mu.Lock()
	held := d.held
	d.held = nil
	d.ids = make(map[string]struct{})
	d.mu.Unlock()

	for _, msg := range held {
		d.client.resend(msg)
	}
}
