package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rtdb/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const (
	// MaxFrameSize is the largest text frame sent before a request is split.
	MaxFrameSize = 16384

	messageBuffer = 64

	defaultHandshakeTimeout = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultKeepAlive        = 45 * time.Second
)

var (
	ErrRedirected = errors.New("transport: server redirected connection")
	ErrShutdown   = errors.New("transport: server shutdown")
)

// Websocket is a Transport over a gorilla websocket connection.
type Websocket struct {
	id     string
	cfg    DialConfig
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	messages  chan protocol.Message

	mu   sync.Mutex
	conn *websocket.Conn
	info Info
	err  error

	writeMu sync.Mutex
}

var _ Transport = (*Websocket)(nil)

// WebsocketDialer returns a Dialer producing websocket transports. A nil dialer
// uses websocket.DefaultDialer.
func WebsocketDialer(dialer *websocket.Dialer) Dialer {
	return func(cfg DialConfig) Transport {
		return DialWebsocket(cfg, dialer)
	}
}

// DialWebsocket starts connecting in the background and returns immediately.
func DialWebsocket(cfg DialConfig, dialer *websocket.Dialer) *Websocket {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Websocket{
		id:       ulid.Make().String(),
		cfg:      cfg,
		dialer:   dialer,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		messages: make(chan protocol.Message, messageBuffer),
	}
	go t.run()
	return t
}

// ConnectURL builds the websocket endpoint for cfg.
func ConnectURL(cfg DialConfig) string {
	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("v", protocol.ProtocolVersion)
	if cfg.Namespace != "" {
		q.Set("ns", cfg.Namespace)
	}
	if cfg.LastSessionID != "" {
		q.Set("ls", cfg.LastSessionID)
	}
	u := url.URL{Scheme: scheme, Host: cfg.Target(), Path: "/.ws", RawQuery: q.Encode()}
	return u.String()
}

func (t *Websocket) ID() string                        { return t.id }
func (t *Websocket) Ready() <-chan struct{}            { return t.ready }
func (t *Websocket) Done() <-chan struct{}             { return t.done }
func (t *Websocket) Messages() <-chan protocol.Message { return t.messages }

func (t *Websocket) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

func (t *Websocket) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Websocket) Close() error {
	t.cancel()
	return nil
}

// Add encodes req and writes it, splitting frames larger than MaxFrameSize.
func (t *Websocket) Add(num int, req protocol.Request) error {
	select {
	case <-t.done:
		return ErrClosed
	case <-t.ready:
	default:
		return ErrNotReady
	}
	payload, err := protocol.EncodeRequest(num, req)
	if err != nil {
		return err
	}
	if len(payload) <= MaxFrameSize {
		return t.write(payload)
	}
	chunks := splitFrames(payload, MaxFrameSize)
	if err := t.write([]byte(strconv.Itoa(len(chunks)))); err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := t.write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Websocket) run() {
	defer t.finish()

	dialCtx, cancel := context.WithTimeout(t.ctx, t.cfg.HandshakeTimeout)
	conn, _, err := t.dialer.DialContext(dialCtx, ConnectURL(t.cfg), nil)
	cancel()
	if err != nil {
		t.fail(fmt.Errorf("transport: dial %s: %w", t.cfg.Target(), err))
		return
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go func() {
		<-t.ctx.Done()
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	log.Debug().Str("transport", t.id).Str("host", t.cfg.Target()).Msg("websocket connected")
	t.readLoop(conn)
}

func (t *Websocket) readLoop(conn *websocket.Conn) {
	var (
		pending  int
		assembly []byte
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.fail(err)
			return
		}
		if pending == 0 && string(data) == protocol.KeepAliveFrame {
			continue
		}
		if pending > 0 {
			assembly = append(assembly, data...)
			pending--
			if pending > 0 {
				continue
			}
			data = assembly
			assembly = nil
		} else if n, ok := frameCount(data); ok {
			pending = n
			assembly = assemblyBuffer(n)
			continue
		}
		if err := t.handleFrame(conn, data); err != nil {
			t.fail(err)
			return
		}
	}
}

func (t *Websocket) handleFrame(conn *websocket.Conn, raw []byte) error {
	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		return err
	}
	if frame.Control != nil {
		return t.handleControl(conn, *frame.Control)
	}
	select {
	case <-t.ready:
	default:
		log.Warn().Str("transport", t.id).Msg("data frame before handshake dropped")
		return nil
	}
	select {
	case t.messages <- *frame.Data:
		return nil
	case <-t.ctx.Done():
		return ErrClosed
	}
}

func (t *Websocket) handleControl(conn *websocket.Conn, ctrl protocol.Control) error {
	switch ctrl.Type {
	case protocol.ControlHandshake:
		h := ctrl.Handshake
		t.mu.Lock()
		t.info = Info{
			SessionID: h.SessionID,
			Host:      h.Host,
			Version:   h.Version,
		}
		// Without ts the server clock is unknown; Timestamp stays zero.
		if h.Timestamp != 0 {
			t.info.Timestamp = time.UnixMilli(h.Timestamp)
		}
		t.mu.Unlock()
		_ = conn.SetReadDeadline(time.Time{})
		t.readyOnce.Do(func() {
			close(t.ready)
			go t.keepAlive()
		})
		log.Debug().Str("transport", t.id).Str("session", h.SessionID).Msg("handshake complete")
	case protocol.ControlRedirect:
		host := ctrl.Text()
		t.mu.Lock()
		t.info.Host = host
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRedirected, host)
	case protocol.ControlShutdown:
		return fmt.Errorf("%w: %s", ErrShutdown, ctrl.Text())
	case protocol.ControlError:
		log.Warn().Str("transport", t.id).Str("error", ctrl.Text()).Msg("server reported error")
	case protocol.ControlPing:
		payload, err := protocol.EncodeControl(protocol.ControlPong, map[string]any{})
		if err != nil {
			return err
		}
		return t.write(payload)
	case protocol.ControlPong:
	default:
		log.Debug().Str("transport", t.id).Str("type", ctrl.Type).Msg("unknown control frame ignored")
	}
	return nil
}

func (t *Websocket) keepAlive() {
	ticker := time.NewTicker(t.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if err := t.write([]byte(protocol.KeepAliveFrame)); err != nil {
				return
			}
		}
	}
}

func (t *Websocket) write(payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.cancel()
		return err
	}
	return nil
}

func (t *Websocket) fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		if t.ctx.Err() != nil {
			err = ErrClosed
		}
		t.err = err
	}
	t.mu.Unlock()
}

func (t *Websocket) finish() {
	t.cancel()
	t.mu.Lock()
	err := t.err
	t.mu.Unlock()
	log.Debug().Str("transport", t.id).AnErr("reason", err).Msg("websocket done")
	close(t.done)
	close(t.messages)
}

// assemblyPrealloc bounds the frames preallocated for a split message; the
// count comes from the server.
const assemblyPrealloc = 4

func assemblyBuffer(frames int) []byte {
	return make([]byte, 0, min(frames, assemblyPrealloc)*MaxFrameSize)
}

// frameCount recognizes the short numeric frame announcing a split message.
func frameCount(data []byte) (int, bool) {
	if len(data) == 0 || len(data) > 6 {
		return 0, false
	}
	text := strings.TrimSpace(string(data))
	n, err := strconv.Atoi(text)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func splitFrames(payload []byte, size int) [][]byte {
	chunks := make([][]byte, 0, len(payload)/size+1)
	for len(payload) > 0 {
		n := size
		if len(payload) < n {
			n = len(payload)
		}
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}
	return chunks
}
