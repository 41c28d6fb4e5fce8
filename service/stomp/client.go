package stomp

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"DeepGround/tools/errs"
	"DeepGround/tools/safe"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// tuning parameters
	writeWait      = 10 * time.Second
	connectTimeout = 10 * time.Second
	receiptWait    = 2 * time.Second
	maxMessageSize = int64(1 << 20)
	sendBufSize    = 256
)

type Config struct {
	URL  string
	Host string
	// HeartBeat is offered for both directions; 0 disables heart-beating.
	HeartBeat time.Duration
	Header    http.Header
}

// Handler receives MESSAGE frames of one subscription on the read goroutine.
type Handler func(*Frame)

type Subscription struct {
	ID          string
	Destination string
	c           *Client
	h           Handler
	once        sync.Once
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.c.unsubscribe(s) })
	return err
}

// Client is one STOMP 1.2 session over a WebSocket.
type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	send chan []byte
	done chan struct{}

	mu       sync.RWMutex
	subs     map[string]*Subscription
	receipts map[string]chan struct{}
	err      error
	closing  bool

	closeOnce sync.Once
	server    string
	readEvery time.Duration
	sendEvery time.Duration
}

// Dial connects the WebSocket and completes the CONNECT handshake. The token
// goes into the CONNECT Authorization header.
func Dial(ctx context.Context, cfg Config, token string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: connectTimeout,
		Subprotocols:     []string{"v12.stomp"},
	}
	conn, resp, err := d.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errs.ErrAuthRejected.WrapMsg("websocket handshake", "status", resp.StatusCode)
		}
		return nil, errs.As(errs.ErrTransport, err)
	}
	conn.SetReadLimit(maxMessageSize)

	host := cfg.Host
	if host == "" {
		host = "/"
	}
	hb := strconv.FormatInt(cfg.HeartBeat.Milliseconds(), 10)
	connect := NewFrame(CmdConnect,
		HdrAcceptVersion, "1.2",
		HdrHost, host,
		HdrHeartBeat, hb+","+hb,
	)
	if token != "" {
		connect.Header.Set(HdrAuthorization, "Bearer "+strings.TrimPrefix(token, "Bearer "))
	}
	payload, err := Encode(connect)
	if err != nil {
		conn.Close()
		return nil, err
	}

	deadline := time.Now().Add(connectTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return nil, errs.As(errs.ErrTransport, err)
	}
	_ = conn.SetReadDeadline(deadline)
	connected, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	switch connected.Command {
	case CmdConnected:
	case CmdError:
		conn.Close()
		return nil, brokerError(connected)
	default:
		conn.Close()
		return nil, errs.ErrProtocol.WrapMsg("unexpected frame before CONNECTED", "command", connected.Command)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:     conn,
		log:      log,
		send:     make(chan []byte, sendBufSize),
		done:     make(chan struct{}),
		subs:     make(map[string]*Subscription),
		receipts: make(map[string]chan struct{}),
		server:   connected.Header.Get(HdrServer),
	}
	c.negotiate(cfg.HeartBeat, connected.Header.Get(HdrHeartBeat))
	log.Debug("stomp connected", zap.String("url", cfg.URL), zap.String("server", c.server),
		zap.Duration("send_every", c.sendEvery), zap.Duration("read_every", c.readEvery))

	safe.SafeGo(c.readPump)
	safe.SafeGo(c.writePump)
	return c, nil
}

// readFrame reads messages until one carries a frame.
func readFrame(conn *websocket.Conn) (*Frame, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, errs.As(errs.ErrTransport, err)
		}
		frames, err := Decode(data)
		if err != nil {
			return nil, err
		}
		if len(frames) > 0 {
			return frames[0], nil
		}
	}
}

// brokerError maps an ERROR frame. Auth failures reported by the broker
// become errs.ErrAuthRejected.
func brokerError(f *Frame) error {
	msg := f.Header.Get(HdrMessage)
	text := strings.ToLower(msg + " " + string(f.Body))
	if strings.Contains(text, "401") || strings.Contains(text, "unauthorized") ||
		strings.Contains(text, "forbidden") || strings.Contains(text, "expired") {
		return errs.ErrAuthRejected.WrapMsg(msg)
	}
	return errs.ErrProtocol.WrapMsg("broker error", "message", msg, "body", string(f.Body))
}

func (c *Client) negotiate(ours time.Duration, theirs string) {
	sx, sy, err := heartBeat(theirs)
	if err != nil {
		c.log.Warn("ignoring heart-beat header", zap.String("value", theirs))
		return
	}
	if ours > 0 && sy > 0 {
		c.sendEvery = max(ours, sy)
	}
	if ours > 0 && sx > 0 {
		c.readEvery = max(ours, sx)
	}
}

func (c *Client) Server() string { return c.server }

// Done is closed when the session ends for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err is the reason the session ended; nil after a clean Close.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if !c.closing {
			c.err = err
		}
		c.subs = make(map[string]*Subscription)
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
		if err != nil {
			c.log.Debug("stomp session ended", zap.Error(err))
		}
	})
}

func (c *Client) readPump() {
	for {
		if c.readEvery > 0 {
			// allow twice the negotiated interval before declaring the broker dead
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.readEvery))
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(errs.As(errs.ErrTransport, err))
			return
		}
		frames, err := Decode(data)
		if err != nil {
			c.log.Warn("dropping undecodable stomp message", zap.Error(err))
			continue
		}
		for _, f := range frames {
			if stop := c.dispatch(f); stop {
				return
			}
		}
	}
}

func (c *Client) dispatch(f *Frame) (stop bool) {
	switch f.Command {
	case CmdMessage:
		c.mu.RLock()
		sub := c.subs[f.Header.Get(HdrSubscription)]
		c.mu.RUnlock()
		if sub == nil {
			return false
		}
		safe.Run(func() { sub.h(f) })
	case CmdReceipt:
		id := f.Header.Get(HdrReceiptID)
		c.mu.Lock()
		ch := c.receipts[id]
		delete(c.receipts, id)
		c.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	case CmdError:
		c.shutdown(brokerError(f))
		return true
	default:
		c.log.Debug("ignoring stomp frame", zap.String("command", f.Command))
	}
	return false
}

func (c *Client) writePump() {
	var beat <-chan time.Time
	if c.sendEvery > 0 {
		t := time.NewTicker(c.sendEvery)
		defer t.Stop()
		beat = t.C
	}
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown(errs.As(errs.ErrTransport, err))
				return
			}
		case <-beat:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte("\n")); err != nil {
				c.shutdown(errs.As(errs.ErrTransport, err))
				return
			}
		}
	}
}

func (c *Client) write(f *Frame) error {
	select {
	case <-c.done:
		return errs.ErrNotConnected.WrapMsg("stomp session closed", "command", f.Command)
	default:
	}
	data, err := Encode(f)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errs.ErrNotConnected.WrapMsg("stomp session closed", "command", f.Command)
	case <-time.After(writeWait):
		return errs.ErrTransport.WrapMsg("stomp send queue full", "command", f.Command)
	}
}

// Subscribe registers h before the SUBSCRIBE frame goes out, so no MESSAGE
// can be missed.
func (c *Client) Subscribe(destination string, h Handler) (*Subscription, error) {
	sub := &Subscription{ID: uuid.NewString(), Destination: destination, c: c, h: h}
	c.mu.Lock()
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	f := NewFrame(CmdSubscribe, HdrID, sub.ID, HdrDestination, destination, HdrAck, "auto")
	if err := c.write(f); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.ID)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

func (c *Client) unsubscribe(s *Subscription) error {
	c.mu.Lock()
	delete(c.subs, s.ID)
	c.mu.Unlock()
	return c.write(NewFrame(CmdUnsubscribe, HdrID, s.ID))
}

// Send publishes a JSON body to destination.
func (c *Client) Send(destination string, body []byte) error {
	f := NewFrame(CmdSend, HdrDestination, destination, HdrContentType, "application/json")
	f.Body = body
	return c.write(f)
}

// Close sends DISCONNECT, waits briefly for its receipt and drops the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	id := uuid.NewString()
	ch := make(chan struct{})
	c.receipts[id] = ch
	c.mu.Unlock()

	if err := c.write(NewFrame(CmdDisconnect, HdrReceipt, id)); err == nil {
		select {
		case <-ch:
		case <-c.done:
		case <-time.After(receiptWait):
		}
	}
	c.shutdown(nil)
	return nil
}
