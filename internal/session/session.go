package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/rtdb/internal/authtoken"
	"github.com/danmuck/rtdb/internal/protocol"
	"github.com/danmuck/rtdb/internal/transport"
	"github.com/danmuck/rtdb/internal/tree"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session is one logical connection to a database host. It survives transport
// loss: requests stay outstanding and listens are restored after reconnect.
type Session struct {
	cfg     Config
	dial    transport.Dialer
	metrics Metrics
	log     zerolog.Logger

	cmds      chan func()
	stop      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	state    atomic.Int32
	offsetMS atomic.Int64

	errMu sync.Mutex
	err   error

	connectivity *broadcaster[bool]
	operations   *broadcaster[OperationEvent]
	authRevoked  *broadcaster[struct{}]

	// Owned by the run goroutine.
	tr            transport.Transport
	connected     bool
	reconnect     *reconnectTimer
	tags          *tagTable
	listens       *listenRegistry
	outstanding   *outbox
	inflight      map[int]*pendingRequest
	nextNum       int
	token         string
	lastSessionID string
	hint          string
	failure       error
}

// New validates cfg and starts the session. The first connect attempt is made
// immediately. A nil dial uses the websocket transport.
func New(cfg Config, dial transport.Dialer) (*Session, error) {
	cfg = cfg.WithDefaults()
	if cfg.Host == "" {
		return nil, ErrHostRequired
	}
	if dial == nil {
		dial = transport.WebsocketDialer(nil)
	}
	s := &Session{
		cfg:         cfg,
		dial:        dial,
		metrics:     cfg.Metrics,
		log:         log.With().Str("host", cfg.Host).Logger(),
		cmds:        make(chan func()),
		stop:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		reconnect:   newReconnectTimer(cfg.Backoff),
		tags:        newTagTable(),
		listens:     newListenRegistry(),
		outstanding: newOutbox(),
		inflight:    make(map[int]*pendingRequest),
	}
	s.connectivity = newBroadcaster[bool]("connectivity", cfg.Metrics.DroppedEvent)
	s.operations = newBroadcaster[OperationEvent]("operations", cfg.Metrics.DroppedEvent)
	s.authRevoked = newBroadcaster[struct{}]("auth_revoked", cfg.Metrics.DroppedEvent)
	go s.run()
	return s, nil
}

// WriteOption adjusts a put or merge.
type WriteOption func(*writeOptions)

type writeOptions struct {
	hash    string
	writeID int64
}

// WithHash makes the write conditional on the server's current hash.
func WithHash(hash string) WriteOption {
	return func(o *writeOptions) { o.hash = hash }
}

// WithWriteID tags the write for caller-side tracking.
func WithWriteID(id int64) WriteOption {
	return func(o *writeOptions) { o.writeID = id }
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Listen subscribes to path filtered by q (nil for no filter) and returns the
// server's warnings. The subscription is recorded before it is sent, so it is
// restored by a reconnect that happens mid-request. A rejected listen leaves no
// trace. Abandoning ctx stops waiting but keeps the subscription.
func (s *Session) Listen(ctx context.Context, path string, q *tree.Query, hash string) ([]string, error) {
	if q != nil {
		if err := q.Validate(); err != nil {
			return nil, err
		}
		copied := *q
		q = &copied
	}
	key := tree.NewSubscriptionKey(path, q)
	p := newPendingRequest(protocol.Request{})
	err := s.submit(ctx, func() {
		if _, exists := s.listens.get(key); exists {
			p.fail(fmt.Errorf("%w: %s", ErrAlreadyListening, key))
			return
		}
		tag := s.tags.assign(key)
		p.req = protocol.ListenRequest(path, q, hash, tag)
		s.listens.add(&listenEntry{key: key, query: q, tag: tag, req: p})
		s.log.Debug().Str("path", key.Path).Int("tag", tag).Msg("listen")
		if s.connected {
			s.send(p)
		}
	})
	if err != nil {
		return nil, err
	}
	resp, err := p.wait(ctx)
	if err != nil {
		return nil, err
	}
	return listenWarnings(resp.Data), nil
}

// Unlisten removes the subscription for (path, q). Unknown subscriptions fail
// with ErrNotListening. While disconnected it completes at once.
func (s *Session) Unlisten(ctx context.Context, path string, q *tree.Query) error {
	key := tree.NewSubscriptionKey(path, q)
	p := newPendingRequest(protocol.Request{})
	err := s.submit(ctx, func() {
		e, ok := s.listens.remove(key)
		if !ok {
			p.fail(fmt.Errorf("%w: %s", ErrNotListening, key))
			return
		}
		tag, _ := s.tags.release(key)
		e.req.fail(fmt.Errorf("%w: %s unlistened before acknowledgement", ErrNotListening, key))
		p.req = protocol.UnlistenRequest(path, e.query, tag)
		s.log.Debug().Str("path", key.Path).Int("tag", tag).Msg("unlisten")
		if !s.connected || !s.send(p) {
			p.complete(protocol.Response{Status: protocol.StatusOK}, nil)
		}
	})
	if err != nil {
		return err
	}
	_, err = p.wait(ctx)
	return err
}

// Put overwrites path with value.
func (s *Session) Put(ctx context.Context, path string, value any, opts ...WriteOption) error {
	o := applyWriteOptions(opts)
	req, err := protocol.PutRequest(path, value, o.hash, o.writeID)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, req)
	return err
}

// Merge updates the named children of path.
func (s *Session) Merge(ctx context.Context, path string, children map[string]any, opts ...WriteOption) error {
	o := applyWriteOptions(opts)
	req, err := protocol.MergeRequest(path, children, o.hash, o.writeID)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, req)
	return err
}

// Auth authenticates the session and returns the server's auth payload. The
// token is kept for replay after reconnect only once the server accepts it.
func (s *Session) Auth(ctx context.Context, token string) (json.RawMessage, error) {
	if claims, err := authtoken.Inspect(token); err == nil && claims.Expired(time.Now()) {
		s.log.Warn().Time("expires_at", claims.ExpiresAt).Msg("auth token already expired")
	}
	resp, err := s.do(ctx, protocol.AuthRequest(token))
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Unauth clears the stored token immediately and asks the server to drop auth.
func (s *Session) Unauth(ctx context.Context) error {
	p := newPendingRequest(protocol.UnauthRequest())
	if err := s.submit(ctx, func() {
		s.token = ""
		s.admit(p)
	}); err != nil {
		return err
	}
	_, err := p.wait(ctx)
	return err
}

// OnDisconnectPut asks the server to put value at path when this client
// disconnects.
func (s *Session) OnDisconnectPut(ctx context.Context, path string, value any) error {
	req, err := protocol.OnDisconnectPutRequest(path, value)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, req)
	return err
}

func (s *Session) OnDisconnectMerge(ctx context.Context, path string, children map[string]any) error {
	req, err := protocol.OnDisconnectMergeRequest(path, children)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, req)
	return err
}

func (s *Session) OnDisconnectCancel(ctx context.Context, path string) error {
	_, err := s.do(ctx, protocol.OnDisconnectCancelRequest(path))
	return err
}

// ReportStats sends client counters to the server.
func (s *Session) ReportStats(ctx context.Context, counters map[string]int) error {
	_, err := s.do(ctx, protocol.StatsRequest(counters))
	return err
}

// Disconnect closes the current transport. The session reconnects after the
// usual backoff.
func (s *Session) Disconnect() {
	_ = s.submit(context.Background(), func() {
		if s.tr != nil {
			_ = s.tr.Close()
		}
	})
}

// Close ends every event stream, then drops the transport. Requests still
// waiting fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.loopDone
	return nil
}

// Connectivity streams true on connect and false on disconnect.
func (s *Session) Connectivity() *Subscription[bool] {
	return s.connectivity.subscribe(s.cfg.EventBuffer)
}

// Operations streams data pushes.
func (s *Session) Operations() *Subscription[OperationEvent] {
	return s.operations.subscribe(s.cfg.EventBuffer)
}

// AuthRevoked fires when the server revokes authentication.
func (s *Session) AuthRevoked() *Subscription[struct{}] {
	return s.authRevoked.subscribe(s.cfg.EventBuffer)
}

// ServerTime estimates the server clock from the offset seen at the last handshake.
func (s *Session) ServerTime() time.Time {
	return time.Now().Add(time.Duration(s.offsetMS.Load()) * time.Millisecond)
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Err is the error that terminated the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Status is a point-in-time view of the session.
type Status struct {
	Host          string     `json:"host"`
	State         string     `json:"state"`
	SessionID     string     `json:"session_id,omitempty"`
	TransportID   string     `json:"transport_id,omitempty"`
	ServerHost    string     `json:"server_host,omitempty"`
	Listens       []string   `json:"listens"`
	Outstanding   int        `json:"outstanding"`
	Authenticated bool       `json:"authenticated"`
	AuthSubject   string     `json:"auth_subject,omitempty"`
	AuthExpiresAt *time.Time `json:"auth_expires_at,omitempty"`
	ClockOffsetMS int64      `json:"clock_offset_ms"`
}

func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	done := make(chan struct{})
	if err := s.submit(ctx, func() {
		st = s.snapshot()
		close(done)
	}); err != nil {
		return Status{}, err
	}
	<-done
	return st, nil
}

func (s *Session) snapshot() Status {
	st := Status{
		Host:          s.cfg.Host,
		State:         s.State().String(),
		SessionID:     s.lastSessionID,
		ServerHost:    s.hint,
		Listens:       make([]string, 0, s.listens.len()),
		Outstanding:   s.outstanding.len(),
		Authenticated: s.token != "",
		ClockOffsetMS: s.offsetMS.Load(),
	}
	if s.tr != nil {
		st.TransportID = s.tr.ID()
	}
	for _, e := range s.listens.list() {
		st.Listens = append(st.Listens, e.key.String())
	}
	if s.token != "" {
		if claims, err := authtoken.Inspect(s.token); err == nil {
			st.AuthSubject = claims.Subject
			if claims.HasExpiry() {
				exp := claims.ExpiresAt
				st.AuthExpiresAt = &exp
			}
		}
	}
	return st
}

func (s *Session) submit(ctx context.Context, fn func()) error {
	select {
	case s.cmds <- fn:
		return nil
	case <-s.loopDone:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) closedErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrSessionClosed
}

// do admits req to the outstanding set and waits for its response.
func (s *Session) do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	p := newPendingRequest(req)
	if err := s.submit(ctx, func() { s.admit(p) }); err != nil {
		return protocol.Response{}, err
	}
	return p.wait(ctx)
}

func (s *Session) run() {
	defer close(s.loopDone)
	s.scheduleConnect(0)
	for s.failure == nil {
		var (
			ready    <-chan struct{}
			done     <-chan struct{}
			messages <-chan protocol.Message
		)
		if s.tr != nil {
			done = s.tr.Done()
			if s.connected {
				messages = s.tr.Messages()
			} else {
				ready = s.tr.Ready()
			}
		}
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.reconnect.C():
			s.reconnect.fired()
			s.connect()
		case <-ready:
			s.onReady()
		case msg, ok := <-messages:
			if ok {
				s.handleMessage(msg)
			} else {
				s.onTransportDone()
			}
		case <-done:
			s.onTransportDone()
		case <-s.stop:
			s.shutdown(nil)
			return
		}
		s.metrics.Listens(s.listens.len())
		s.metrics.Outstanding(s.outstanding.len())
	}
	s.log.Error().Err(s.failure).Msg("session failed")
	s.shutdown(s.failure)
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

// scheduleConnect arms the reconnect timer, replacing any armed one.
func (s *Session) scheduleConnect(delay time.Duration) {
	if s.tr != nil {
		panic("session: connect scheduled while transport active")
	}
	s.reconnect.arm(delay)
	s.setState(StateConnecting)
}

func (s *Session) connect() {
	cfg := transport.DialConfig{
		Host:             s.cfg.Host,
		Hint:             s.hint,
		LastSessionID:    s.lastSessionID,
		Namespace:        s.cfg.Namespace,
		Secure:           s.cfg.Secure,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		WriteTimeout:     s.cfg.WriteTimeout,
		KeepAlive:        s.cfg.KeepAlive,
	}
	s.tr = s.dial(cfg)
	s.connected = false
	s.setState(StateConnecting)
	s.log.Debug().Str("transport", s.tr.ID()).Str("target", cfg.Target()).Msg("connecting")
}

func (s *Session) onReady() {
	info := s.tr.Info()
	s.connected = true
	s.lastSessionID = info.SessionID
	if info.Host != "" {
		s.hint = info.Host
	}
	if !info.Timestamp.IsZero() {
		s.offsetMS.Store(time.Until(info.Timestamp).Milliseconds())
	}
	s.reconnect.reset()
	s.setState(StateConnected)
	s.metrics.Connected()
	s.log.Info().
		Str("transport", s.tr.ID()).
		Str("session", info.SessionID).
		Int("listens", s.listens.len()).
		Int("outstanding", s.outstanding.len()).
		Msg("connected")
	s.connectivity.publish(true)
	s.restore()
}

// restore replays auth, then listens, then outstanding requests.
func (s *Session) restore() {
	if s.token != "" {
		p := newPendingRequest(protocol.AuthRequest(s.token))
		p.replay = true
		if !s.send(p) {
			return
		}
	}
	for _, e := range s.listens.list() {
		if !s.send(e.req) {
			return
		}
	}
	for _, p := range s.outstanding.list() {
		if !s.send(p) {
			return
		}
	}
}

func (s *Session) admit(p *pendingRequest) {
	s.outstanding.add(p)
	if s.connected {
		s.send(p)
	}
}

// send numbers p and hands it to the transport. A false return means the
// transport is going away; p stays where it is and is resent after reconnect.
func (s *Session) send(p *pendingRequest) bool {
	s.nextNum++
	num := s.nextNum
	s.inflight[num] = p
	err := s.tr.Add(num, p.req)
	if err == nil {
		return true
	}
	delete(s.inflight, num)
	if errors.Is(err, protocol.ErrInvalidRequest) {
		s.settle(p, protocol.Response{}, err)
		return true
	}
	s.log.Debug().Err(err).Str("action", p.req.Action).Msg("send failed, request kept")
	return false
}

func (s *Session) handleMessage(msg protocol.Message) {
	if msg.IsResponse() {
		s.handleResponse(*msg.RequestNumber, msg.Response())
		return
	}
	s.handlePush(msg)
}

func (s *Session) handleResponse(num int, resp protocol.Response) {
	p, ok := s.inflight[num]
	if !ok {
		s.log.Debug().Int("request", num).Msg("response for unknown request dropped")
		return
	}
	delete(s.inflight, num)
	s.settle(p, resp, resp.Err())
}

// settle delivers the outcome of p and updates the bookkeeping it belongs to.
func (s *Session) settle(p *pendingRequest, resp protocol.Response, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	s.metrics.Request(p.req.Action, outcome)
	switch {
	case p.replay:
		p.complete(resp, err)
		if err != nil {
			s.log.Warn().Err(err).Msg("stored auth rejected on reconnect")
			s.token = ""
			s.metrics.Event("auth_revoked")
			s.authRevoked.publish(struct{}{})
		}
	case p.req.Action == protocol.ActionListen:
		s.onListenResult(p, resp, err)
	case p.req.Action == protocol.ActionUnlisten:
		p.complete(resp, err)
	default:
		s.outstanding.remove(p)
		if p.req.Action == protocol.ActionAuth && err == nil {
			s.token = p.req.Body.Cred
		}
		p.complete(resp, err)
	}
}

func (s *Session) onListenResult(p *pendingRequest, resp protocol.Response, err error) {
	if err == nil {
		p.complete(resp, nil)
		return
	}
	var entry *listenEntry
	if p.req.Body.Tag != nil {
		if e, ok := s.lookupTag(*p.req.Body.Tag); ok && e.req == p {
			entry = e
			s.dropListen(e)
		}
	}
	if p.complete(resp, err) || entry == nil {
		return
	}
	// The caller already saw this listen succeed, so the rejection of its replay
	// can only be reported as a revocation.
	s.log.Warn().Err(err).Str("path", entry.key.Path).Msg("restored listen rejected")
	path := tree.ParsePath(entry.key.Path)
	s.publishOperation(OperationEvent{Kind: OperationListenRevoked, Path: &path, Query: entry.query})
}

func (s *Session) lookupTag(tag int) (*listenEntry, bool) {
	key, ok := s.tags.lookupByTag(tag)
	if !ok {
		return nil, false
	}
	return s.listens.get(key)
}

func (s *Session) dropListen(e *listenEntry) {
	s.listens.remove(e.key)
	s.tags.release(e.key)
}

func (s *Session) handlePush(msg protocol.Message) {
	c, err := classify(msg, s.lookupTag)
	if err != nil {
		s.failure = err
		return
	}
	switch c.disposition {
	case dispatchStale:
		s.metrics.StalePush()
		s.log.Debug().Int("tag", *c.tag).Str("action", msg.Action).Msg("push for removed listen dropped")
	case dispatchSecurityDebug:
		s.log.Info().Str("msg", c.text).Msg("security debug")
	case dispatchAuthRevoked:
		s.log.Warn().Str("reason", c.text).Msg("auth revoked")
		s.token = ""
		s.metrics.Event("auth_revoked")
		s.authRevoked.publish(struct{}{})
	case dispatchOperation:
		if c.event.Kind == OperationListenRevoked && c.subscribed {
			if e, ok := s.listens.get(c.key); ok {
				s.dropListen(e)
				e.req.fail(fmt.Errorf("%w: %s revoked by server", ErrNotListening, c.key))
			}
			s.log.Warn().Str("path", c.key.Path).Msg("listen revoked")
		}
		s.publishOperation(c.event)
	}
}

func (s *Session) publishOperation(ev OperationEvent) {
	s.metrics.Event(ev.Kind.String())
	s.operations.publish(ev)
}

func (s *Session) onTransportDone() {
	tr := s.tr
	wasConnected := s.connected
	if wasConnected {
		s.drain(tr)
	}
	reason := tr.Err()
	if host := tr.Info().Host; host != "" {
		s.hint = host
	}
	s.tr = nil
	s.connected = false
	for num, p := range s.inflight {
		// The server forgets listens with the connection, so an unlisten in
		// flight has nothing left to remove.
		if p.req.Action == protocol.ActionUnlisten {
			p.complete(protocol.Response{Status: protocol.StatusOK}, nil)
		}
		delete(s.inflight, num)
	}
	s.setState(StateIdle)
	if wasConnected {
		s.metrics.Disconnected()
		s.log.Info().Str("transport", tr.ID()).AnErr("reason", reason).Msg("disconnected")
		s.connectivity.publish(false)
	} else {
		s.log.Debug().Str("transport", tr.ID()).AnErr("reason", reason).Msg("connect attempt failed")
	}
	if s.failure != nil {
		return
	}
	delay := s.reconnect.next()
	if errors.Is(reason, transport.ErrRedirected) {
		delay = 0
	}
	s.metrics.ReconnectScheduled(delay)
	s.scheduleConnect(delay)
}

// drain handles messages the transport buffered before it ended.
func (s *Session) drain(tr transport.Transport) {
	for s.failure == nil {
		select {
		case msg, ok := <-tr.Messages():
			if !ok {
				return
			}
			s.handleMessage(msg)
		default:
			return
		}
	}
}

func (s *Session) shutdown(cause error) {
	s.reconnect.cancel()
	reason := cause
	if reason == nil {
		reason = ErrSessionClosed
	} else {
		s.errMu.Lock()
		s.err = cause
		s.errMu.Unlock()
	}
	s.connectivity.close()
	s.operations.close()
	s.authRevoked.close()
	if s.tr != nil {
		_ = s.tr.Close()
		s.tr = nil
	}
	s.connected = false
	for num, p := range s.inflight {
		p.fail(reason)
		delete(s.inflight, num)
	}
	for _, p := range s.outstanding.list() {
		s.outstanding.remove(p)
		p.fail(reason)
	}
	for _, e := range s.listens.list() {
		e.req.fail(reason)
	}
	s.setState(StateIdle)
	s.log.Debug().AnErr("reason", cause).Msg("session stopped")
}

func listenWarnings(data json.RawMessage) []string {
	if len(data) == 0 {
		return nil
	}
	var body struct {
		Warnings []string `json:"w"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	return body.Warnings
}
