// Package gateway maintains one Discord gateway websocket connection per
// shard and mirrors the observed guild/channel state into a Mirror.
//
// A Client owns a single shard: it performs the hello/identify handshake,
// keeps the heartbeat alive, dispatches events into the mirror, and
// reconnects (resuming when possible) after transport failures.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// Discord allows 120 gateway sends per 60 seconds per connection.
	sendRateLimit = 120.0 / 60.0
	sendRateBurst = 120

	handshakeTimeout = 10 * time.Second
	dialTimeout      = 30 * time.Second

	// maxReconnectWindow bounds how long a shard keeps retrying before
	// the failure is surfaced as fatal.
	maxReconnectWindow = 5 * time.Minute
)

// ErrClosed is returned by operations on a client that has been closed.
var ErrClosed = errors.New("gateway: client is closed")

// Options configures a shard client. Token, URL, and Store are required.
type Options struct {
	// Token authenticates the identify call.
	Token string

	// ShardID and ShardCount are sent in the identify shard block.
	ShardID    int
	ShardCount int

	// Intents is the intent bitmask; defaults to IntentGuilds.
	Intents int

	// Presence is the optional presence sent at identify time.
	Presence *Presence

	// URL is the gateway websocket URL, typically resolved through
	// Resolver.GatewayBot.
	URL string

	// Logger receives connection lifecycle logs.
	Logger zerolog.Logger

	// Store receives the mirrored guild/channel state.
	Store Mirror

	// OnEvent is invoked once per dispatch with the event type name.
	OnEvent func(eventType string)

	// OnError receives errors recovered inside packet handling. The
	// connection survives these; they are reported, not fatal.
	OnError func(err error)
}

// Client is a single shard's gateway connection. Construct with
// NewClient, establish with Connect, release with Close.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	limiter *rate.Limiter

	// writeMu serializes frame writes; gorilla permits one writer.
	writeMu sync.Mutex
	connMu  sync.RWMutex
	conn    *websocket.Conn

	stateMu   sync.RWMutex
	guilds    map[string]struct{}
	sessionID string
	resumeURL string

	seq    atomic.Int64
	acked  atomic.Bool
	closed atomic.Bool

	readyOnce sync.Once
	readyCh   chan struct{}
	fatalCh   chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient builds a shard client. No network activity happens until
// Connect is called.
func NewClient(opts Options) *Client {
	if opts.Intents == 0 {
		opts.Intents = IntentGuilds
	}
	if opts.ShardCount < 1 {
		opts.ShardCount = 1
	}
	if opts.OnEvent == nil {
		opts.OnEvent = func(string) {}
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		logger:  opts.Logger.With().Int("shard", opts.ShardID).Logger(),
		limiter: rate.NewLimiter(rate.Limit(sendRateLimit), sendRateBurst),
		guilds:  make(map[string]struct{}),
		readyCh: make(chan struct{}),
		fatalCh: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the shard id this client serves.
func (c *Client) ID() int { return c.opts.ShardID }

// Connect dials the gateway, completes the identify handshake, and
// blocks until the shard is READY or ctx expires. Reconnection after a
// later transport failure is handled internally; a Connect error is
// fatal to the shard.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.URL == "" {
		return errors.New("gateway: options URL is required")
	}
	if c.opts.Store == nil {
		return errors.New("gateway: options Store is required")
	}
	if c.closed.Load() {
		return ErrClosed
	}

	if err := c.dial(ctx, c.opts.URL, false); err != nil {
		return err
	}

	select {
	case <-c.readyCh:
		return nil
	case err := <-c.fatalCh:
		_ = c.Close()
		return err
	case <-ctx.Done():
		_ = c.Close()
		return fmt.Errorf("gateway: shard %d connect: %w", c.opts.ShardID, ctx.Err())
	}
}

// dial opens the socket, consumes hello, sends identify or resume, and
// starts the read and heartbeat loops for this connection generation.
func (c *Client) dial(ctx context.Context, baseURL string, resume bool) error {
	addr := gatewayAddr(baseURL)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("gateway: dial %s: %w", addr, err)
	}

	hello, err := readHello(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.acked.Store(true)

	if resume {
		err = c.sendResume()
	} else {
		err = c.sendIdentify()
	}
	if err != nil {
		_ = conn.Close()
		return err
	}

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	c.logger.Debug().
		Dur("heartbeat_interval", interval).
		Bool("resume", resume).
		Msg("gateway handshake complete")

	c.wg.Add(2)
	go c.heartbeatLoop(conn, interval)
	go c.readLoop(conn)
	return nil
}

func readHello(conn *websocket.Conn) (helloData, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return helloData{}, fmt.Errorf("gateway: read hello: %w", err)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return helloData{}, fmt.Errorf("gateway: decode hello envelope: %w", err)
	}
	if p.Op != opHello {
		return helloData{}, fmt.Errorf("gateway: expected hello (op %d), got op %d", opHello, p.Op)
	}

	var hello helloData
	if err := json.Unmarshal(p.D, &hello); err != nil {
		return helloData{}, fmt.Errorf("gateway: decode hello data: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return helloData{}, fmt.Errorf("gateway: invalid heartbeat interval %d", hello.HeartbeatInterval)
	}
	return hello, nil
}

func (c *Client) sendIdentify() error {
	return c.send(opIdentify, identifyData{
		Token: c.opts.Token,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "gatewarden",
			Device:  "gatewarden",
		},
		Intents:  c.opts.Intents,
		Shard:    [2]int{c.opts.ShardID, c.opts.ShardCount},
		Presence: c.opts.Presence,
	})
}

func (c *Client) sendResume() error {
	c.stateMu.RLock()
	sessionID := c.sessionID
	c.stateMu.RUnlock()

	return c.send(opResume, resumeData{
		Token:     c.opts.Token,
		SessionID: sessionID,
		Seq:       c.seq.Load(),
	})
}

// send marshals and writes one frame, honoring the gateway send rate.
func (c *Client) send(op int, data interface{}) error {
	frame, err := marshalPayload(op, data)
	if err != nil {
		return fmt.Errorf("gateway: marshal op %d: %w", op, err)
	}

	if err := c.limiter.Wait(c.ctx); err != nil {
		return fmt.Errorf("gateway: send rate wait: %w", err)
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("gateway: write op %d: %w", op, err)
	}
	return nil
}

// heartbeatLoop sends op 1 on the negotiated interval. The first beat is
// jittered per the gateway contract. A missing ack between beats means
// the connection is a zombie, so the socket is torn down and the read
// loop drives reconnection.
func (c *Client) heartbeatLoop(conn *websocket.Conn, interval time.Duration) {
	defer c.wg.Done()

	first := time.Duration(rand.Float64() * float64(interval))
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}

		if c.currentConn() != conn {
			return // a newer connection generation took over
		}

		if !c.acked.Swap(false) {
			c.logger.Warn().Msg("heartbeat ack missed, closing zombie connection")
			_ = conn.Close()
			return
		}

		seq := c.seq.Load()
		if err := c.send(opHeartbeat, seq); err != nil {
			c.logger.Debug().Err(err).Msg("heartbeat send failed")
			return
		}
		timer.Reset(interval)
	}
}

// readLoop consumes frames until the connection drops, then initiates
// reconnection unless the client was closed deliberately.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || c.ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Msg("gateway read failed, reconnecting")
			c.reconnect(true)
			return
		}

		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			c.opts.OnError(fmt.Errorf("gateway: decode frame: %w", err))
			continue
		}

		switch p.Op {
		case opDispatch:
			if p.S != nil {
				c.seq.Store(*p.S)
			}
			c.handleDispatch(c.ctx, p.T, p.D)

		case opHeartbeat:
			if err := c.send(opHeartbeat, c.seq.Load()); err != nil {
				c.logger.Debug().Err(err).Msg("requested heartbeat send failed")
			}

		case opHeartbeatAck:
			c.acked.Store(true)

		case opReconnect:
			c.logger.Info().Msg("gateway requested reconnect")
			_ = conn.Close()
			c.reconnect(true)
			return

		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(p.D, &resumable)
			c.logger.Warn().Bool("resumable", resumable).Msg("gateway invalidated session")
			_ = conn.Close()
			if !resumable {
				c.clearSession()
			}
			c.reconnect(resumable)
			return
		}
	}
}

// reconnect redials with exponential backoff, resuming when a session is
// held. Exhausting the window surfaces a fatal error: before READY it
// fails Connect, afterwards it is reported and the shard stays down.
func (c *Client) reconnect(tryResume bool) {
	resume := tryResume && c.hasSession()
	baseURL := c.opts.URL
	if resume {
		if u := c.resumeGatewayURL(); u != "" {
			baseURL = u
		}
	}

	operation := func() (struct{}, error) {
		if c.closed.Load() {
			return struct{}{}, backoff.Permanent(ErrClosed)
		}
		dialCtx, cancel := context.WithTimeout(c.ctx, dialTimeout)
		defer cancel()
		return struct{}{}, c.dial(dialCtx, baseURL, resume)
	}

	_, err := backoff.Retry(c.ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxReconnectWindow),
	)
	if err != nil {
		err = fmt.Errorf("gateway: shard %d reconnect exhausted: %w", c.opts.ShardID, err)
		c.opts.OnError(err)
		select {
		case c.fatalCh <- err:
		default:
		}
	}
}

// GuildCount reports how many guilds this shard currently tracks.
func (c *Client) GuildCount(_ context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return len(c.guilds), nil
}

// Close sends a close frame and stops all loops. Idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	c.wg.Wait()
	return nil
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) hasSession() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.sessionID != ""
}

func (c *Client) resumeGatewayURL() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.resumeURL
}

func (c *Client) clearSession() {
	c.stateMu.Lock()
	c.sessionID = ""
	c.resumeURL = ""
	c.stateMu.Unlock()
	c.seq.Store(0)
}

func (c *Client) signalReady() {
	c.readyOnce.Do(func() { close(c.readyCh) })
}

// gatewayAddr appends the protocol version and encoding query to the
// base gateway URL returned by the REST API.
func gatewayAddr(base string) string {
	base = strings.TrimSuffix(base, "/")
	return base + "/?v=10&encoding=json"
}
