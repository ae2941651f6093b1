package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
	"github.com/meshsync-dev/meshsync/pkg/transport"
)

// Engine errors.
var (
	ErrTimeout          = errors.New("engine: reply timeout")
	ErrConnectionClosed = errors.New("engine: connection closed")
	ErrCancelled        = errors.New("engine: message cancelled by middleware")
)

// ResultError is a peer-reported operation failure, carried on the reply
// that rejected the request.
type ResultError struct {
	Code    string
	Message string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("engine: operation %s: %s", e.Code, e.Message)
}

// DefaultReplyTimeout bounds a reply-expecting message when no per-type
// override applies.
const DefaultReplyTimeout = 30 * time.Second

// Config tunes an Engine.
type Config struct {
	// DefaultTimeout is the reply timeout when TimeoutFor returns zero.
	DefaultTimeout time.Duration

	// TimeoutFor overrides the reply timeout per payload type. May be nil.
	TimeoutFor func(payloadType string) time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{DefaultTimeout: DefaultReplyTimeout}
}

// Handler consumes dispatched (non-reply) messages for the protocol phase
// currently listening on the engine.
type Handler interface {
	HandleMessage(msg *protocol.Message)
}

// Engine drives one connection's protocol traffic.
type Engine struct {
	conn    transport.Conn
	config  *Config
	logger  *slog.Logger
	quality Quality

	mu         sync.Mutex
	cond       *sync.Cond
	middleware []Middleware
	pending    map[string]*pendingRequest
	handler    Handler
	buffered   []*protocol.Message
	closed     bool
	closeErr   error
	closeFn    func(error)

	// dispatchMu serializes handler invocations: a StartListening flush
	// finishes before the read loop may dispatch a newly arrived message,
	// so buffered messages strictly precede live ones.
	dispatchMu sync.Mutex

	done chan struct{}
}

// pendingRequest tracks one outstanding reply-expecting message.
type pendingRequest struct {
	payloadType string
	future      *Future
	timer       *time.Timer
}

// New creates an engine over the given connection. Call Start to begin
// reading; register middleware and a close callback before that.
func New(conn transport.Conn, config *Config, logger *slog.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = DefaultReplyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		conn:    conn,
		config:  config,
		logger:  logger.With("component", "engine"),
		pending: make(map[string]*pendingRequest),
		done:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Use appends a middleware to the chain. Middleware runs in registration
// order on both the send and receive paths.
func (e *Engine) Use(mw Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middleware = append(e.middleware, mw)
}

// OnClose registers the close callback, invoked exactly once when the
// connection ends. Must be set before Start.
func (e *Engine) OnClose(fn func(error)) {
	e.closeFn = fn
}

// Start begins reading from the connection.
func (e *Engine) Start() {
	e.conn.Start(e)
}

// Quality returns the connection's quality tracker.
func (e *Engine) Quality() *Quality { return &e.quality }

// Send transmits a message without expecting a reply.
func (e *Engine) Send(msg *protocol.Message) error {
	_, err := e.send(msg, false)
	return err
}

// SendRequest transmits a message that expects a reply and returns its
// completion handle. The handle rejects on timeout, connection close,
// middleware cancellation, or an error operation result.
func (e *Engine) SendRequest(msg *protocol.Message) *Future {
	future, err := e.send(msg, true)
	if err != nil && future == nil {
		return rejectedFuture(err)
	}
	return future
}

func (e *Engine) send(msg *protocol.Message, expectReply bool) (*Future, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	chain := e.middleware
	e.mu.Unlock()

	for _, mw := range chain {
		if msg = mw.BeforeSend(msg); msg == nil {
			return nil, ErrCancelled
		}
	}

	var future *Future
	if expectReply {
		msg.AwaitingResponse = true
		future = newFuture()
		e.register(msg, future)
	}

	data, err := protocol.Marshal(msg)
	if err != nil {
		e.unregister(msg.ID)
		if future != nil {
			future.reject(err)
		}
		return future, err
	}
	if err := e.conn.Send(data); err != nil {
		e.unregister(msg.ID)
		if future != nil {
			future.reject(err)
		}
		return future, err
	}
	return future, nil
}

func (e *Engine) register(msg *protocol.Message, future *Future) {
	typ := msg.Type()
	timeout := e.timeoutFor(typ)
	req := &pendingRequest{payloadType: typ, future: future}
	req.timer = time.AfterFunc(timeout, func() { e.timeoutFired(msg.ID) })

	e.mu.Lock()
	e.pending[msg.ID] = req
	e.mu.Unlock()
}

func (e *Engine) unregister(id string) *pendingRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.pending[id]
	if !ok {
		return nil
	}
	delete(e.pending, id)
	req.timer.Stop()
	if len(e.pending) == 0 {
		e.cond.Broadcast()
	}
	return req
}

func (e *Engine) timeoutFor(payloadType string) time.Duration {
	if e.config.TimeoutFor != nil {
		if d := e.config.TimeoutFor(payloadType); d > 0 {
			return d
		}
	}
	return e.config.DefaultTimeout
}

// timeoutFired handles a reply timeout: the peer is assumed unreachable,
// so the whole connection comes down. Only this connection is affected.
func (e *Engine) timeoutFired(id string) {
	req := e.unregister(id)
	if req == nil {
		return
	}
	e.logger.Error("reply timeout, closing connection",
		"message_id", id,
		"payload_type", req.payloadType)
	req.future.reject(fmt.Errorf("%w: %s", ErrTimeout, req.payloadType))
	e.conn.Close()
}

// StartListening attaches the handler for the current protocol phase and
// flushes any messages buffered since the previous handler detached.
func (e *Engine) StartListening(h Handler) {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()

	e.mu.Lock()
	e.handler = h
	buffered := e.buffered
	e.buffered = nil
	e.mu.Unlock()

	for _, msg := range buffered {
		h.HandleMessage(msg)
	}
}

// StopListening detaches the current handler. Dispatchable messages
// arriving while no handler is attached are buffered for the next one.
func (e *Engine) StopListening() {
	e.mu.Lock()
	e.handler = nil
	e.mu.Unlock()
}

// Drain blocks until every pending request has settled. Signaled when the
// pending count reaches zero; used to flush outstanding requests before a
// protocol handover.
func (e *Engine) Drain(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.pending) > 0 && !e.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.cond.Wait()
	}
	return nil
}

// Close tears the connection down. Idempotent.
func (e *Engine) Close() {
	e.conn.Close()
}

// Done reports terminal completion of the engine.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err returns the terminal error after Done, nil for a clean close.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeErr
}

// HandleMessage implements transport.Handler.
func (e *Engine) HandleMessage(data []byte) {
	msg, err := protocol.Unmarshal(data)
	if err != nil {
		// Unknown or malformed payloads are a local defect, never fatal.
		e.logger.Error("dropping undecodable message", "error", err)
		return
	}

	e.mu.Lock()
	chain := e.middleware
	e.mu.Unlock()
	for _, mw := range chain {
		if msg = mw.BeforeRecv(msg); msg == nil {
			return
		}
	}

	if msg.IsReply() {
		e.settleReply(msg)
		return
	}

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	e.mu.Lock()
	h := e.handler
	if h == nil {
		e.buffered = append(e.buffered, msg)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	h.HandleMessage(msg)
}

// settleReply routes a reply to its pending request.
func (e *Engine) settleReply(msg *protocol.Message) {
	req := e.unregister(msg.ReplyToID)
	if req == nil {
		e.logger.Error("reply with no matching request",
			"reply_to", msg.ReplyToID,
			"payload_type", msg.Type())
		return
	}
	if err := replyError(msg.Payload); err != nil {
		req.future.rejectWith(msg, err)
		return
	}
	req.future.resolve(msg)
}

// replyError maps failure-reporting reply payloads to request rejections.
func replyError(p protocol.Payload) error {
	switch body := p.(type) {
	case *protocol.OperationResult:
		if body.ResultCode == protocol.ResultError {
			return &ResultError{Code: body.ResultCode, Message: body.Message}
		}
	case *protocol.ObjectSpawned:
		if body.Result.ResultCode == protocol.ResultError {
			return &ResultError{Code: body.Result.ResultCode, Message: body.Result.Message}
		}
	case *protocol.AssetsLoaded:
		if body.FailureMessage != "" {
			return &ResultError{Code: protocol.ResultError, Message: body.FailureMessage}
		}
	}
	return nil
}

// HandleClose implements transport.Handler. Rejects all pending requests
// and completes the engine.
func (e *Engine) HandleClose(err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.closeErr = err
	pending := e.pending
	e.pending = make(map[string]*pendingRequest)
	closeFn := e.closeFn
	e.cond.Broadcast()
	e.mu.Unlock()

	reason := ErrConnectionClosed
	if err != nil {
		reason = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	for _, req := range pending {
		req.timer.Stop()
		req.future.reject(reason)
	}

	close(e.done)
	if closeFn != nil {
		// The transport invokes HandleClose from inside its own teardown
		// Once, and close callbacks (Client.Leave, Session.close) close
		// the connection again. Running the callback on this goroutine
		// would re-enter that Once and deadlock.
		go closeFn(err)
	}
}
