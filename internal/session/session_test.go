package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/rtdb/internal/protocol"
	"github.com/danmuck/rtdb/internal/testutil/testlog"
	"github.com/danmuck/rtdb/internal/transport"
	"github.com/danmuck/rtdb/internal/transport/transporttest"
	"github.com/danmuck/rtdb/internal/tree"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

func transporttestConfig() transport.DialConfig {
	return transport.DialConfig{Host: "db.example"}
}

type harness struct {
	t      *testing.T
	s      *Session
	dialer *transporttest.Dialer
	conn   *Subscription[bool]
	ops    *Subscription[OperationEvent]
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "db.example"
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1.0}
	}
	d := transporttest.NewDialer()
	s, err := New(cfg, d.Dial)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	h := &harness{t: t, s: s, dialer: d, conn: s.Connectivity(), ops: s.Operations()}
	t.Cleanup(func() { _ = s.Close() })
	return h
}

func (h *harness) dial() *transporttest.Fake {
	h.t.Helper()
	f, ok := h.dialer.Next(waitFor)
	if !ok {
		h.t.Fatalf("no dial within %v", waitFor)
	}
	return f
}

func (h *harness) connect(sessionID string) *transporttest.Fake {
	h.t.Helper()
	f := h.dial()
	f.MarkReady(transport.Info{
		SessionID: sessionID,
		Timestamp: time.Now().Add(time.Minute),
		Host:      "s1.example",
	})
	h.expectConnectivity(true)
	return f
}

func (h *harness) expectConnectivity(want bool) {
	h.t.Helper()
	select {
	case got, ok := <-h.conn.C:
		if !ok {
			h.t.Fatalf("connectivity stream closed")
		}
		if got != want {
			h.t.Fatalf("connectivity got=%v want=%v", got, want)
		}
	case <-time.After(waitFor):
		h.t.Fatalf("timed out waiting for connectivity=%v", want)
	}
}

func (h *harness) nextOp() OperationEvent {
	h.t.Helper()
	select {
	case ev, ok := <-h.ops.C:
		if !ok {
			h.t.Fatalf("operations stream closed")
		}
		return ev
	case <-time.After(waitFor):
		h.t.Fatalf("timed out waiting for operation")
	}
	return OperationEvent{}
}

func (h *harness) status() Status {
	h.t.Helper()
	st, err := h.s.Status(context.Background())
	if err != nil {
		h.t.Fatalf("status: %v", err)
	}
	return st
}

func (h *harness) eventually(what string, cond func(Status) bool) {
	h.t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond(h.status()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func nextSent(t *testing.T, f *transporttest.Fake) transporttest.Sent {
	t.Helper()
	s, ok := f.NextSent(waitFor)
	if !ok {
		t.Fatalf("nothing sent on %s within %v", f.ID(), waitFor)
	}
	return s
}

func expectNothingSent(t *testing.T, f *transporttest.Fake) {
	t.Helper()
	if s, ok := f.NextSent(50 * time.Millisecond); ok {
		t.Fatalf("unexpected send on %s: %+v", f.ID(), s)
	}
}

type result[T any] struct {
	v   T
	err error
}

func async[T any](fn func() (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn()
		ch <- result[T]{v: v, err: err}
	}()
	return ch
}

func asyncErr(fn func() error) <-chan result[struct{}] {
	return async(func() (struct{}, error) { return struct{}{}, fn() })
}

func await[T any](t *testing.T, ch <-chan result[T]) result[T] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatalf("call did not return within %v", waitFor)
	}
	return result[T]{}
}

// listen subscribes and acknowledges, returning the tag the session chose.
func (h *harness) listen(f *transporttest.Fake, path string, q *tree.Query) int {
	h.t.Helper()
	done := async(func() ([]string, error) {
		return h.s.Listen(context.Background(), path, q, "")
	})
	sent := nextSent(h.t, f)
	if sent.Request.Action != protocol.ActionListen || sent.Request.Body.Tag == nil {
		h.t.Fatalf("listen request got=%+v", sent.Request)
	}
	f.RespondOK(sent.Num)
	if r := await(h.t, done); r.err != nil {
		h.t.Fatalf("listen %s: %v", path, r.err)
	}
	return *sent.Request.Body.Tag
}

func TestNewRequiresHost(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{Host: "  "}, nil); !errors.Is(err, ErrHostRequired) {
		t.Fatalf("empty host got=%v", err)
	}
}

func TestListenPushUnlistenIgnoresLatePush(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f := h.connect("sess-1")

	tag := h.listen(f, "/a", nil)
	f.PushSet("", &tag, 5)
	ev := h.nextOp()
	if ev.Kind != OperationOverwrite || ev.Path == nil || ev.Path.String() != "/a" || string(ev.Data) != "5" || ev.Query != nil {
		t.Fatalf("event got=%+v", ev)
	}
	m, err := ev.Mutation()
	if err != nil {
		t.Fatalf("mutation: %v", err)
	}
	if ow, ok := m.(tree.Overwrite); !ok || ow.Node.Value != float64(5) {
		t.Fatalf("mutation got=%#v", m)
	}

	done := asyncErr(func() error { return h.s.Unlisten(context.Background(), "/a", nil) })
	sent := nextSent(t, f)
	if sent.Request.Action != protocol.ActionUnlisten || *sent.Request.Body.Tag != tag {
		t.Fatalf("unlisten request got=%+v", sent.Request)
	}
	f.RespondOK(sent.Num)
	if r := await(t, done); r.err != nil {
		t.Fatalf("unlisten: %v", r.err)
	}

	f.PushSet("", &tag, 6)
	f.PushSet("/marker", nil, true)
	if ev := h.nextOp(); ev.Path == nil || ev.Path.String() != "/marker" {
		t.Fatalf("late push for removed listen was emitted: %+v", ev)
	}

	next := h.listen(f, "/a", nil)
	if next == tag {
		t.Fatalf("tag %d reused", tag)
	}
	f.PushSet("", &tag, 7)
	f.PushSet("", &next, 8)
	if ev := h.nextOp(); string(ev.Data) != "8" {
		t.Fatalf("stale tag routed to new listen: %+v", ev)
	}
	if h.s.Err() != nil {
		t.Fatalf("stale push should not fail the session: %v", h.s.Err())
	}
}

func TestReconnectReplaysAuthThenListensThenOutstanding(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f1 := h.connect("sess-1")

	authDone := async(func() (json.RawMessage, error) {
		return h.s.Auth(context.Background(), "token-1")
	})
	sent := nextSent(t, f1)
	if sent.Request.Action != protocol.ActionAuth || sent.Request.Body.Cred != "token-1" {
		t.Fatalf("auth request got=%+v", sent.Request)
	}
	f1.Respond(sent.Num, protocol.StatusOK, map[string]any{"auth": map[string]any{"uid": "u1"}})
	if r := await(t, authDone); r.err != nil || string(r.v) != `{"auth":{"uid":"u1"}}` {
		t.Fatalf("auth got=%s err=%v", r.v, r.err)
	}

	tagA := h.listen(f1, "/a", nil)
	query := &tree.Query{OrderBy: tree.IndexKey, Limit: 3}
	tagB := h.listen(f1, "/b", query)

	putDone := asyncErr(func() error {
		return h.s.Put(context.Background(), "/p", 1, WithHash("h1"), WithWriteID(7))
	})
	put := nextSent(t, f1)
	if put.Request.Action != protocol.ActionPut || put.Request.Body.Hash != "h1" || put.Request.WriteID != 7 {
		t.Fatalf("put request got=%+v", put.Request)
	}

	f1.Drop(errors.New("network reset"))
	h.expectConnectivity(false)

	mergeDone := asyncErr(func() error {
		return h.s.Merge(context.Background(), "/m", map[string]any{"x": 1})
	})
	h.eventually("merge queued", func(st Status) bool { return st.Outstanding == 2 })

	f2 := h.dial()
	if cfg := f2.Config(); cfg.LastSessionID != "sess-1" || cfg.Hint != "s1.example" {
		t.Fatalf("redial config got=%+v", cfg)
	}
	f2.MarkReady(transport.Info{SessionID: "sess-2", Timestamp: time.Now()})
	h.expectConnectivity(true)

	order := make([]transporttest.Sent, 0, 5)
	for i := 0; i < 5; i++ {
		order = append(order, nextSent(t, f2))
	}
	expectNothingSent(t, f2)

	if order[0].Request.Action != protocol.ActionAuth || order[0].Request.Body.Cred != "token-1" {
		t.Fatalf("first replay got=%+v", order[0].Request)
	}
	if order[1].Request.Action != protocol.ActionListen || *order[1].Request.Body.Tag != tagA {
		t.Fatalf("second replay got=%+v", order[1].Request)
	}
	if order[2].Request.Action != protocol.ActionListen || *order[2].Request.Body.Tag != tagB || order[2].Request.Body.Query["l"] != 3 {
		t.Fatalf("third replay got=%+v", order[2].Request)
	}
	if order[3].Request.Action != protocol.ActionPut || order[3].Request.Body.Path != "/p" {
		t.Fatalf("fourth replay got=%+v", order[3].Request)
	}
	if order[4].Request.Action != protocol.ActionMerge || order[4].Request.Body.Path != "/m" {
		t.Fatalf("fifth replay got=%+v", order[4].Request)
	}

	for _, s := range order {
		f2.RespondOK(s.Num)
	}
	if r := await(t, putDone); r.err != nil {
		t.Fatalf("put after replay: %v", r.err)
	}
	if r := await(t, mergeDone); r.err != nil {
		t.Fatalf("merge after replay: %v", r.err)
	}
	st := h.status()
	if st.SessionID != "sess-2" || st.Outstanding != 0 || len(st.Listens) != 2 || !st.Authenticated {
		t.Fatalf("status got=%+v", st)
	}
}

func TestServerRejectionCarriesCode(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f := h.connect("sess-1")

	done := asyncErr(func() error { return h.s.Put(context.Background(), "/locked", "x") })
	sent := nextSent(t, f)
	f.Respond(sent.Num, protocol.CodePermissionDenied, "rules rejected write")
	r := await(t, done)
	var serr *protocol.ServerError
	if !errors.As(r.err, &serr) || serr.Code != protocol.CodePermissionDenied {
		t.Fatalf("put error got=%v", r.err)
	}
	if !errors.Is(r.err, protocol.ErrServerRejected) || serr.Reason() != "Client doesn't have permission to access the desired data." {
		t.Fatalf("rejection reason got=%q", serr.Reason())
	}

	done = asyncErr(func() error { return h.s.OnDisconnectCancel(context.Background(), "/presence") })
	sent = nextSent(t, f)
	f.Respond(sent.Num, "weird_code", nil)
	r = await(t, done)
	if !errors.As(r.err, &serr) || serr.Code != "weird_code" || serr.Reason() != "Unknown Error" {
		t.Fatalf("unknown code got=%v", r.err)
	}
	if h.status().Outstanding != 0 {
		t.Fatalf("rejected requests should leave the outstanding set")
	}
}

func TestListenRejectionRollsBack(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f1 := h.connect("sess-1")

	done := async(func() ([]string, error) {
		return h.s.Listen(context.Background(), "/secret", nil, "")
	})
	sent := nextSent(t, f1)
	f1.Respond(sent.Num, protocol.CodePermissionDenied, nil)
	if r := await(t, done); !errors.Is(r.err, protocol.ErrServerRejected) {
		t.Fatalf("listen got=%v", r.err)
	}
	if st := h.status(); len(st.Listens) != 0 {
		t.Fatalf("rejected listen left residue: %+v", st.Listens)
	}

	f1.Drop(errors.New("gone"))
	h.expectConnectivity(false)
	f2 := h.connect("sess-2")
	expectNothingSent(t, f2)

	done = async(func() ([]string, error) {
		return h.s.Listen(context.Background(), "/secret", nil, "")
	})
	sent = nextSent(t, f2)
	f2.Respond(sent.Num, protocol.StatusOK, map[string]any{"w": []string{"no_index"}})
	r := await(t, done)
	if r.err != nil || len(r.v) != 1 || r.v[0] != "no_index" {
		t.Fatalf("second listen got=%v err=%v", r.v, r.err)
	}
}

func TestListenBookkeepingErrors(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f := h.connect("sess-1")
	h.listen(f, "/a", nil)

	if _, err := h.s.Listen(context.Background(), "a/", nil, ""); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("duplicate listen got=%v", err)
	}
	if err := h.s.Unlisten(context.Background(), "/nope", nil); !errors.Is(err, ErrNotListening) {
		t.Fatalf("unknown unlisten got=%v", err)
	}
	if _, err := h.s.Listen(context.Background(), "/a", &tree.Query{Limit: -1}, ""); !errors.Is(err, tree.ErrInvalidQuery) {
		t.Fatalf("invalid query got=%v", err)
	}
	expectNothingSent(t, f)
}

func TestReplayedListenRejectionRevokes(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f1 := h.connect("sess-1")
	h.listen(f1, "/a", nil)

	f1.Drop(errors.New("gone"))
	h.expectConnectivity(false)
	f2 := h.connect("sess-2")
	sent := nextSent(t, f2)
	f2.Respond(sent.Num, protocol.CodePermissionDenied, nil)

	ev := h.nextOp()
	if ev.Kind != OperationListenRevoked || ev.Target().String() != "/a" {
		t.Fatalf("revocation got=%+v", ev)
	}
	if st := h.status(); len(st.Listens) != 0 {
		t.Fatalf("rejected replay left listens=%v", st.Listens)
	}
}

func TestListenRevokedPushDropsSubscription(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f := h.connect("sess-1")
	h.listen(f, "/a", nil)

	path := "a"
	f.Push(protocol.Message{Action: protocol.PushListenRevoked, Body: protocol.MessageBody{Path: &path}})
	ev := h.nextOp()
	if ev.Kind != OperationListenRevoked || ev.Target().String() != "/a" {
		t.Fatalf("revocation got=%+v", ev)
	}
	if m, _ := ev.Mutation(); m != nil {
		t.Fatalf("revocation should carry no mutation, got=%#v", m)
	}
	if st := h.status(); len(st.Listens) != 0 {
		t.Fatalf("revoked listen still registered: %v", st.Listens)
	}
}

func TestAuthRevokedClearsStoredToken(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	revoked := h.s.AuthRevoked()
	f1 := h.connect("sess-1")

	done := async(func() (json.RawMessage, error) {
		return h.s.Auth(context.Background(), "token-1")
	})
	f1.RespondOK(nextSent(t, f1).Num)
	if r := await(t, done); r.err != nil {
		t.Fatalf("auth: %v", r.err)
	}

	f1.Push(protocol.Message{Action: protocol.PushAuthRevoked, Body: protocol.MessageBody{Status: "expired_token"}})
	select {
	case <-revoked.C:
	case <-time.After(waitFor):
		t.Fatalf("auth revoked not published")
	}
	if h.status().Authenticated {
		t.Fatalf("token should be cleared")
	}

	f1.Drop(errors.New("gone"))
	h.expectConnectivity(false)
	f2 := h.connect("sess-2")
	expectNothingSent(t, f2)
}

func TestUnauthClearsTokenBeforeResponse(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f := h.connect("sess-1")

	done := async(func() (json.RawMessage, error) {
		return h.s.Auth(context.Background(), "token-1")
	})
	f.RespondOK(nextSent(t, f).Num)
	await(t, done)

	unauth := asyncErr(func() error { return h.s.Unauth(context.Background()) })
	sent := nextSent(t, f)
	if sent.Request.Action != protocol.ActionUnauth {
		t.Fatalf("unauth request got=%+v", sent.Request)
	}
	if h.status().Authenticated {
		t.Fatalf("unauth should clear the token on invocation")
	}
	f.RespondOK(sent.Num)
	if r := await(t, unauth); r.err != nil {
		t.Fatalf("unauth: %v", r.err)
	}
}

func TestUnlistenWhileDisconnectedCompletes(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{Backoff: BackoffConfig{InitialDelay: time.Hour, Multiplier: 1.0}})
	f := h.connect("sess-1")
	h.listen(f, "/a", nil)

	f.Drop(errors.New("gone"))
	h.expectConnectivity(false)
	if err := h.s.Unlisten(context.Background(), "/a", nil); err != nil {
		t.Fatalf("unlisten while disconnected: %v", err)
	}
	if st := h.status(); len(st.Listens) != 0 || st.State != StateConnecting.String() {
		t.Fatalf("status got=%+v", st)
	}
}

func TestConnectFailureRetriesWithoutDisconnectEvent(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f1 := h.dial()
	f1.Drop(errors.New("refused"))
	f2 := h.connect("sess-1")
	if f2 == f1 {
		t.Fatalf("transport reused")
	}
	select {
	case v := <-h.conn.C:
		t.Fatalf("unexpected connectivity event %v", v)
	default:
	}
}

func TestRedirectReconnectsImmediately(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{Backoff: BackoffConfig{InitialDelay: time.Hour, Multiplier: 1.0}})
	f1 := h.connect("sess-1")
	f1.Drop(fmt.Errorf("%w: s-eu1.example", transport.ErrRedirected))
	h.expectConnectivity(false)
	h.dial()
}

func TestProtocolViolationIsTerminal(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f := h.connect("sess-1")

	done := asyncErr(func() error { return h.s.Put(context.Background(), "/a", 1) })
	nextSent(t, f)
	f.Push(protocol.Message{Action: "zz"})

	if r := await(t, done); !errors.Is(r.err, ErrProtocolViolation) {
		t.Fatalf("pending put got=%v", r.err)
	}
	select {
	case _, ok := <-h.conn.C:
		if ok {
			t.Fatalf("connectivity should close, not publish")
		}
	case <-time.After(waitFor):
		t.Fatalf("connectivity stream not closed")
	}
	if !errors.Is(h.s.Err(), ErrProtocolViolation) {
		t.Fatalf("Err got=%v", h.s.Err())
	}
	if err := h.s.Put(context.Background(), "/a", 2); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("put after failure got=%v", err)
	}
	if h.dialer.Count() != 1 {
		t.Fatalf("violation must not reconnect, dials=%d", h.dialer.Count())
	}
}

func TestCloseFailsWaitersAndClosesStreams(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	h.dial()

	done := asyncErr(func() error { return h.s.Put(context.Background(), "/a", 1) })
	h.eventually("put queued", func(st Status) bool { return st.Outstanding == 1 })

	if err := h.s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r := await(t, done); !errors.Is(r.err, ErrSessionClosed) {
		t.Fatalf("queued put got=%v", r.err)
	}
	if _, ok := <-h.ops.C; ok {
		t.Fatalf("operations stream should be closed")
	}
	if _, ok := <-h.s.Connectivity().C; ok {
		t.Fatalf("late subscriber should get a closed stream")
	}
	if _, err := h.s.Listen(context.Background(), "/a", nil, ""); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("listen after close got=%v", err)
	}
	if h.s.State() != StateIdle || h.s.Err() != nil {
		t.Fatalf("state=%v err=%v", h.s.State(), h.s.Err())
	}
	if err := h.s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestServerTimeUsesHandshakeOffset(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	h.connect("sess-1")
	skew := time.Until(h.s.ServerTime())
	if skew < 50*time.Second || skew > 70*time.Second {
		t.Fatalf("server time skew got=%v", skew)
	}
	if h.s.State() != StateConnected {
		t.Fatalf("state got=%v", h.s.State())
	}
}

func TestAbandonedListenStaysRegistered(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f := h.connect("sess-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := async(func() ([]string, error) {
		return h.s.Listen(ctx, "/a", nil, "")
	})
	sent := nextSent(t, f)
	cancel()
	if r := await(t, done); !errors.Is(r.err, context.Canceled) {
		t.Fatalf("abandoned listen got=%v", r.err)
	}
	f.RespondOK(sent.Num)
	if st := h.status(); len(st.Listens) != 1 || st.Listens[0] != "/a" {
		t.Fatalf("listens got=%v", st.Listens)
	}
}

func TestDisconnectReplaysListenWithSameHashAndTag(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f1 := h.connect("sess-1")

	done := async(func() ([]string, error) {
		return h.s.Listen(context.Background(), "/a", nil, "HASH")
	})
	first := nextSent(t, f1)
	if first.Request.Action != protocol.ActionListen || first.Request.Body.Hash != "HASH" || first.Request.Body.Tag == nil {
		t.Fatalf("listen request got=%+v", first.Request)
	}
	f1.RespondOK(first.Num)
	if r := await(t, done); r.err != nil {
		t.Fatalf("listen: %v", r.err)
	}

	h.s.Disconnect()
	h.expectConnectivity(false)
	f2 := h.connect("sess-2")
	if got := h.dialer.Count(); got != 2 {
		t.Fatalf("dials got=%d", got)
	}

	replay := nextSent(t, f2)
	if replay.Request.Action != protocol.ActionListen || replay.Request.Body.Path != "/a" {
		t.Fatalf("replayed request got=%+v", replay.Request)
	}
	if replay.Request.Body.Hash != "HASH" {
		t.Fatalf("replayed hash got=%q", replay.Request.Body.Hash)
	}
	if replay.Request.Body.Tag == nil || *replay.Request.Body.Tag != *first.Request.Body.Tag {
		t.Fatalf("replayed tag got=%v want=%d", replay.Request.Body.Tag, *first.Request.Body.Tag)
	}
	f2.RespondOK(replay.Num)
	expectNothingSent(t, f2)
}

func TestOnDisconnectWritesRoundTrip(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f := h.connect("sess-1")

	put := asyncErr(func() error {
		return h.s.OnDisconnectPut(context.Background(), "/presence/u1", "offline")
	})
	sent := nextSent(t, f)
	if sent.Request.Action != protocol.ActionOnDisconnectPut || sent.Request.Body.Path != "/presence/u1" || string(sent.Request.Body.Data) != `"offline"` {
		t.Fatalf("on-disconnect put got=%+v", sent.Request)
	}
	f.RespondOK(sent.Num)
	if r := await(t, put); r.err != nil {
		t.Fatalf("on-disconnect put: %v", r.err)
	}

	merge := asyncErr(func() error {
		return h.s.OnDisconnectMerge(context.Background(), "/presence", map[string]any{"u1": nil})
	})
	sent = nextSent(t, f)
	if sent.Request.Action != protocol.ActionOnDisconnectMerge || sent.Request.Body.Path != "/presence" || string(sent.Request.Body.Data) != `{"u1":null}` {
		t.Fatalf("on-disconnect merge got=%+v", sent.Request)
	}
	f.Respond(sent.Num, "permission_denied", nil)
	r := await(t, merge)
	var serr *protocol.ServerError
	if !errors.As(r.err, &serr) || serr.Code != "permission_denied" {
		t.Fatalf("rejected on-disconnect merge got=%v", r.err)
	}

	cancel := asyncErr(func() error {
		return h.s.OnDisconnectCancel(context.Background(), "/presence/u1")
	})
	sent = nextSent(t, f)
	if sent.Request.Action != protocol.ActionOnDisconnectCancel || sent.Request.Body.Path != "/presence/u1" {
		t.Fatalf("on-disconnect cancel got=%+v", sent.Request)
	}
	f.RespondOK(sent.Num)
	if r := await(t, cancel); r.err != nil {
		t.Fatalf("on-disconnect cancel: %v", r.err)
	}
	if st := h.status(); st.Outstanding != 0 {
		t.Fatalf("outstanding got=%d", st.Outstanding)
	}
}

func TestPriorityPushBecomesSetPriority(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	f := h.connect("sess-1")
	h.listen(f, "/x", nil)

	f.PushSet("/x/.priority", nil, 3)
	ev := h.nextOp()
	if ev.Kind != OperationOverwrite || ev.Path == nil || ev.Path.String() != "/x/.priority" {
		t.Fatalf("priority event got=%+v", ev)
	}
	m, err := ev.Mutation()
	if err != nil {
		t.Fatalf("mutation: %v", err)
	}
	sp, ok := m.(tree.SetPriority)
	if !ok || sp.Path.String() != "/x" || sp.Priority != float64(3) {
		t.Fatalf("mutation got=%#v", m)
	}
}
