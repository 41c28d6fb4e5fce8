package natsx

import (
	"errors"
	"strings"
	"sync"
	"time"

	apperrs "DeepGround/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers       []string      `yaml:"servers"`
	Name          string        `yaml:"name"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
	// MaxReconnects 限制库自身的重连次数，放弃后由调用方的退避接管。
	MaxReconnects int `yaml:"max_reconnects"`
}

func (c *NatsxConfig) norm() {
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
	if c.Name == "" {
		c.Name = "deepground-client"
	}
}

// NatsxClient 统一客户端
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	log *zap.Logger

	mu   sync.RWMutex
	subs map[string]*nats.Subscription // sid -> sub

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// NewNatsxClient 连接 NATS，token 作为连接鉴权
func NewNatsxClient(cfg NatsxConfig, token string, log *zap.Logger) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, apperrs.ErrTransport.WrapMsg("nats servers missing")
	}
	cfg.norm()
	if log == nil {
		log = zap.NewNop()
	}
	c := &NatsxClient{
		cfg:  cfg,
		log:  log,
		subs: make(map[string]*nats.Subscription),
		done: make(chan struct{}),
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.finish(nc.LastError())
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(strings.TrimPrefix(token, "Bearer ")))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, mapErr(err)
	}
	c.nc = nc
	return c, nil
}

func mapErr(err error) error {
	if errors.Is(err, nats.ErrAuthorization) || errors.Is(err, nats.ErrAuthExpired) ||
		strings.Contains(strings.ToLower(err.Error()), "authorization violation") {
		return apperrs.ErrAuthRejected.WrapMsg(err.Error())
	}
	return apperrs.As(apperrs.ErrTransport, err)
}

func (c *NatsxClient) finish(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		if err != nil {
			c.err = mapErr(err)
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// Done 在连接彻底关闭后关闭。
func (c *NatsxClient) Done() <-chan struct{} { return c.done }

func (c *NatsxClient) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close 优雅关闭
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	for sid, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, sid)
	}
	c.mu.Unlock()
	c.nc.Close()
	c.finish(nil)
	return nil
}
