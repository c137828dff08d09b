package devrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

const controlWriteWait = time.Second

// ConnState is the readiness of a transport's connection.
type ConnState int

// Connection states. Error and Closed are transient: a failed or closed
// connection drops straight back to Disconnected.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateReady
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// TransportConfig holds configuration for a Transport.
type TransportConfig struct {
	Origins        map[Origin]string  // WebSocket URL per origin
	Origin         Origin             // Initial target, defaults to OriginLocal
	Credentials    CredentialProvider // Credential sent in the auth frame
	RequestTimeout time.Duration      // Optional, defaults to 10s
	SkipAuthAck    bool               // Enter Ready as soon as auth is written
	Dialer         *websocket.Dialer  // Optional, defaults to websocket.DefaultDialer
	Clock          clockz.Clock       // Optional, defaults to clockz.RealClock
}

// Transport owns one persistent connection to an authority and carries
// correlated request/response traffic over it.
//
// Connections are opened lazily by the first call that needs one. A call
// targeting another origin closes the current connection first. Concurrent
// callers share a single in-flight connection attempt.
//
// Transports are safe for concurrent use by multiple goroutines.
type Transport struct {
	cfg    TransportConfig
	clock  clockz.Clock
	dialer *websocket.Dialer
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	origin  Origin
	conn    *connection
	attempt *dialAttempt
	closed  bool
}

// NewTransport creates a Transport. No connection is opened until the
// first request.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Origin == "" {
		cfg.Origin = OriginLocal
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:    cfg,
		clock:  cfg.Clock,
		dialer: cfg.Dialer,
		ctx:    ctx,
		cancel: cancel,
		origin: cfg.Origin,
	}
}

// Origin returns the origin requests are sent to.
func (t *Transport) Origin() Origin {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.origin
}

// SetOrigin retargets the transport. The current connection is closed by
// the next request.
func (t *Transport) SetOrigin(origin Origin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.origin = origin
}

// State reports the connection state for the current origin.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && t.conn.origin == t.origin && t.conn.alive() {
		return StateReady
	}
	if t.attempt != nil && t.attempt.origin == t.origin {
		return StateConnecting
	}
	return StateDisconnected
}

// Pending returns the number of outstanding calls on the current connection.
func (t *Transport) Pending() int {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.pendingCount()
}

// Request sends req to the current origin and waits for its response.
//
// The call resolves with the response data when the authority answers
// ok:true, fails with a *ServerError on ok:false, with ErrRequestTimeout
// when no answer arrives within the request timeout (connecting included),
// and with ErrConnection when the connection is lost while waiting. A
// timeout only settles this call; the connection stays up.
func (t *Transport) Request(ctx context.Context, req Request) (json.RawMessage, error) {
	origin := t.Origin()
	requestID := uuid.New().String()
	start := t.clock.Now()

	expired := make(chan struct{})
	timer := t.clock.AfterFunc(t.cfg.RequestTimeout, func() { close(expired) })
	defer timer.Stop()

	capitan.Info(ctx, RequestStarted,
		RequestIDKey.Field(requestID),
		RequestTypeKey.Field(string(req.Type())),
		OriginKey.Field(string(origin)),
	)

	data, err := t.roundTrip(ctx, origin, requestID, req, expired)
	if err != nil {
		capitan.Error(ctx, RequestFailed,
			RequestIDKey.Field(requestID),
			RequestTypeKey.Field(string(req.Type())),
			OriginKey.Field(string(origin)),
			ErrorKey.Field(err.Error()),
		)
		return nil, err
	}

	capitan.Info(ctx, RequestCompleted,
		RequestIDKey.Field(requestID),
		RequestTypeKey.Field(string(req.Type())),
		OriginKey.Field(string(origin)),
		DurationMsKey.Field(int(t.clock.Since(start).Milliseconds())),
	)
	return data, nil
}

func (t *Transport) roundTrip(ctx context.Context, origin Origin, requestID string, req Request, expired <-chan struct{}) (json.RawMessage, error) {
	frame, err := EncodeRequest(requestID, req)
	if err != nil {
		return nil, err
	}

	conn, err := t.ensure(ctx, origin, expired)
	if err != nil {
		return nil, err
	}

	ch := conn.register(requestID)
	if err := conn.write(frame); err != nil {
		t.drop(conn, err)
	}

	select {
	case r := <-ch:
		return r.data, r.err
	case <-expired:
		conn.settle(requestID, result{err: fmt.Errorf("%w: %s %s after %v", ErrRequestTimeout, req.Type(), requestID, t.cfg.RequestTimeout)})
	case <-ctx.Done():
		conn.settle(requestID, result{err: ctx.Err()})
	}
	// Whichever settlement won is waiting in the buffered channel.
	r := <-ch
	return r.data, r.err
}

// ensure returns a ready connection for origin, opening one if needed.
func (t *Transport) ensure(ctx context.Context, origin Origin, expired <-chan struct{}) (*connection, error) {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, fmt.Errorf("%w: transport closed", ErrConnection)
		}

		if c := t.conn; c != nil {
			if c.origin == origin && c.alive() {
				t.mu.Unlock()
				return c, nil
			}
			// The old channel is closed before any dial toward the new
			// origin starts.
			t.conn = nil
			t.mu.Unlock()
			t.drop(c, fmt.Errorf("%w: switching to origin %s", ErrConnection, origin))
			continue
		}

		a := t.attempt
		if a == nil || a.origin != origin {
			a = &dialAttempt{origin: origin, done: make(chan struct{})}
			t.attempt = a
			go t.dial(a)
		}
		t.mu.Unlock()

		select {
		case <-a.done:
			if a.err != nil {
				return nil, a.err
			}
		case <-expired:
			return nil, fmt.Errorf("%w: waiting for %s connection", ErrRequestTimeout, origin)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type dialAttempt struct {
	origin Origin
	done   chan struct{}
	err    error
}

// dial runs one connection attempt and publishes its outcome.
func (t *Transport) dial(a *dialAttempt) {
	conn, err := t.open(a.origin)

	t.mu.Lock()
	current := t.attempt == a
	if current {
		t.attempt = nil
	}
	install := err == nil && current && !t.closed
	if install {
		t.conn = conn
	}
	t.mu.Unlock()

	if err == nil && !install {
		err = fmt.Errorf("%w: connection attempt superseded", ErrConnection)
		t.drop(conn, err)
	}

	a.err = err
	close(a.done)
}

// open dials origin and authenticates the new channel.
func (t *Transport) open(origin Origin) (*connection, error) {
	capitan.Info(t.ctx, Connecting, OriginKey.Field(string(origin)))

	address, ok := t.cfg.Origins[origin]
	if !ok {
		return nil, fmt.Errorf("%w: no address for origin %q", ErrConnection, origin)
	}
	if t.cfg.Credentials == nil {
		return nil, ErrAuthMissing
	}
	credential, err := t.cfg.Credentials.Credential(t.ctx)
	if err != nil {
		if errors.Is(err, ErrAuthMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthMissing, err)
	}

	ws, _, err := t.dialer.DialContext(t.ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, address, err)
	}

	conn := newConnection(origin, ws)
	ws.SetPingHandler(func(appData string) error {
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	go t.readLoop(conn)

	if err := t.authenticate(conn, credential); err != nil {
		t.drop(conn, err)
		return nil, err
	}

	capitan.Info(t.ctx, Connected, OriginKey.Field(string(origin)))
	return conn, nil
}

// authenticate writes the auth frame straight onto the channel, ahead of
// any queued call, and waits for its acknowledgement unless SkipAuthAck.
func (t *Transport) authenticate(conn *connection, credential string) error {
	requestID := uuid.New().String()
	frame, err := EncodeRequest(requestID, AuthRequest{Cookies: credential})
	if err != nil {
		return err
	}
	if t.cfg.SkipAuthAck {
		return conn.write(frame)
	}

	ch := conn.register(requestID)
	if err := conn.write(frame); err != nil {
		return err
	}

	timer := t.clock.AfterFunc(t.cfg.RequestTimeout, func() {
		conn.settle(requestID, result{err: fmt.Errorf("%w: auth not acknowledged", ErrRequestTimeout)})
	})
	defer timer.Stop()

	select {
	case r := <-ch:
		var serverErr *ServerError
		if errors.As(r.err, &serverErr) {
			return fmt.Errorf("%w: authentication rejected: %w", ErrConnection, r.err)
		}
		return r.err
	case <-t.ctx.Done():
		return fmt.Errorf("%w: transport closed", ErrConnection)
	}
}

// readLoop routes inbound frames to their pending calls until the channel
// fails.
func (t *Transport) readLoop(conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			t.drop(conn, fmt.Errorf("%w: %v", ErrConnection, err))
			return
		}

		resp, err := DecodeResponse(data)
		if err != nil {
			capitan.Error(t.ctx, FrameDropped,
				OriginKey.Field(string(conn.origin)),
				ErrorKey.Field(err.Error()),
			)
			continue
		}

		r := result{data: resp.Data}
		if !resp.OK {
			r = result{err: &ServerError{Payload: resp.Error}}
		}
		if !conn.settle(resp.RequestID, r) {
			capitan.Info(t.ctx, FrameDropped,
				OriginKey.Field(string(conn.origin)),
				RequestIDKey.Field(resp.RequestID),
				ErrorKey.Field("no pending request"),
			)
		}
	}
}

// drop fails conn, rejecting every pending call, and forgets it.
func (t *Transport) drop(conn *connection, err error) {
	if !conn.fail(err) {
		return
	}

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()

	capitan.Info(t.ctx, Disconnected,
		OriginKey.Field(string(conn.origin)),
		ErrorKey.Field(err.Error()),
	)
}

// Close closes the connection, rejects pending calls and makes every later
// call fail with ErrConnection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		t.drop(conn, fmt.Errorf("%w: transport closed", ErrConnection))
	}
	return nil
}

type result struct {
	data json.RawMessage
	err  error
}

// connection is one open channel and the calls waiting on it.
type connection struct {
	origin  Origin
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan result
	closed  bool
	err     error
}

func newConnection(origin Origin, ws *websocket.Conn) *connection {
	return &connection{
		origin:  origin,
		ws:      ws,
		pending: make(map[string]chan result),
	}
}

func (c *connection) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *connection) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// register adds a pending call. On a failed connection the call is
// rejected right away.
func (c *connection) register(requestID string) chan result {
	ch := make(chan result, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		ch <- result{err: c.err}
		return ch
	}
	c.pending[requestID] = ch
	return ch
}

// settle resolves a pending call. Only the first settlement of a call
// wins; later ones report false.
func (c *connection) settle(requestID string, r result) bool {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if ok {
		ch <- r
	}
	return ok
}

// fail closes the channel and rejects all pending calls together.
// It reports whether this call did the failing.
func (c *connection) fail(err error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.err = err
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
	_ = c.ws.Close()
	return true
}

func (c *connection) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnection, err)
	}
	return nil
}
