package notify

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"DeepGround/module/chat/model"
	"DeepGround/service/eventbus"
	"DeepGround/service/sse"
	"DeepGround/tools/backoff"
	"DeepGround/tools/clock"
	"DeepGround/tools/errs"
	"DeepGround/tools/safe"
	"DeepGround/tools/security"

	"go.uber.org/zap"
)

const channelName = "notify"

// Listener receives every event decoded from the stream plus status changes.
type Listener func(eventbus.Event)

// EventStream is an open server-push connection.
type EventStream interface {
	Next() (*sse.Event, error)
	Close() error
}

type Dialer func(ctx context.Context, url string, header http.Header) (EventStream, error)

// SSEDialer adapts an sse.Dialer.
func SSEDialer(d *sse.Dialer) Dialer {
	return func(ctx context.Context, url string, header http.Header) (EventStream, error) {
		st, err := d.Dial(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

// API is the REST side used for backfill and user actions.
type API interface {
	Notifications(ctx context.Context, cursor string, limit int) (*model.NotificationPage, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

type Deps struct {
	Credentials security.CredentialProvider
	API         API
	Dial        Dialer
	Bus         *eventbus.Bus
	Clock       clock.Clock
	Log         *zap.Logger
}

type Status struct {
	State           eventbus.ConnectionState
	Quality         backoff.Quality
	Attempt         int
	LastHeartbeatAt time.Time
	Exhausted       bool
	Fatal           bool
	Err             error
}

// Service owns the one physical notification stream shared by all listeners.
// The stream is open while at least one listener is registered.
type Service struct {
	cfg   Config
	creds security.CredentialProvider
	api   API
	dial  Dialer
	bus   *eventbus.Bus
	clk   clock.Clock
	log   *zap.Logger
	inbox *Inbox

	mu         sync.Mutex
	listeners  map[int64]Listener
	listenerID int64
	active     bool
	gen        uint64
	stream     EventStream
	connecting bool

	state         eventbus.ConnectionState
	quality       backoff.Quality
	attempt       int
	lastHeartbeat time.Time
	exhausted     bool
	fatal         bool
	authRetried   bool
	lastErr       error

	reconnecting bool
	retryTimer   clock.Timer
	monitorTimer clock.Timer
	signalTimer  clock.Timer
}

func New(cfg Config, d Deps) *Service {
	cfg.norm()
	if d.Bus == nil {
		d.Bus = eventbus.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		creds:     d.Credentials,
		api:       d.API,
		dial:      d.Dial,
		bus:       d.Bus,
		clk:       d.Clock,
		log:       d.Log,
		inbox:     NewInbox(),
		listeners: make(map[int64]Listener),
		state:     eventbus.StateDisconnected,
		quality:   backoff.QualityGood,
	}
}

var (
	defaultSvc *Service
	defaultMu  sync.RWMutex
)

// Init installs the process-wide service returned by Default.
func Init(cfg Config, d Deps) *Service {
	s := New(cfg, d)
	defaultMu.Lock()
	defaultSvc = s
	defaultMu.Unlock()
	return s
}

func Default() *Service {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultSvc
}

// Register adds a listener. The first registration opens the stream and the
// last dispose closes it. The returned func is idempotent.
func (s *Service) Register(l Listener) (dispose func()) {
	s.mu.Lock()
	s.listenerID++
	id := s.listenerID
	s.listeners[id] = l
	first := !s.active
	if first {
		s.active = true
		s.fatal = false
		s.exhausted = false
		s.attempt = 0
		s.authRetried = false
		s.monitorTimer = s.clk.AfterFunc(s.cfg.MonitorEvery, s.monitorTick)
	}
	s.mu.Unlock()

	if first {
		s.log.Info("notification channel opening")
		safe.SafeGo(func() { _ = s.connect(context.Background()) })
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.unregister(id) })
	}
}

func (s *Service) unregister(id int64) {
	s.mu.Lock()
	delete(s.listeners, id)
	if len(s.listeners) > 0 || !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.gen++
	stream := s.stream
	s.stream = nil
	s.connecting = false
	s.stopTimersLocked()
	s.state = eventbus.StateDisconnected
	s.attempt = 0
	ev := s.statusEventLocked()
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	s.log.Info("notification channel closed")
	s.bus.Publish(ev)
}

func (s *Service) stopTimersLocked() {
	for _, t := range []*clock.Timer{&s.retryTimer, &s.monitorTimer, &s.signalTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	s.reconnecting = false
}

func (s *Service) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:           s.state,
		Quality:         s.quality,
		Attempt:         s.attempt,
		LastHeartbeatAt: s.lastHeartbeat,
		Exhausted:       s.exhausted,
		Fatal:           s.fatal,
		Err:             s.lastErr,
	}
}

func (s *Service) Inbox() *Inbox { return s.inbox }

func (s *Service) statusEventLocked() eventbus.ConnectionEvent {
	ev := eventbus.ConnectionEvent{
		Channel:   channelName,
		State:     s.state,
		Quality:   s.quality,
		Attempt:   s.attempt,
		Exhausted: s.exhausted,
		Fatal:     s.fatal,
	}
	if s.lastErr != nil {
		ev.Err = s.lastErr.Error()
	}
	return ev
}

func (s *Service) listenersLocked() []Listener {
	ids := make([]int64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = s.listeners[id]
	}
	return out
}

// emit delivers to listeners and the bus. Must be called without s.mu held.
func (s *Service) emit(ls []Listener, ev eventbus.Event, toBus bool) {
	for _, l := range ls {
		l := l
		safe.Run(func() { l(ev) })
	}
	if toBus {
		s.bus.Publish(ev)
	}
}

func (s *Service) emitStatus() {
	s.mu.Lock()
	ev := s.statusEventLocked()
	ls := s.listenersLocked()
	s.mu.Unlock()
	s.emit(ls, ev, true)
}

// connect opens the stream once. ctx bounds the credential lookup and the
// handshake; the stream itself outlives it. Failures are routed through fail.
func (s *Service) connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return errs.ErrClosed.Wrap()
	}
	if s.connecting || s.stream != nil {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.gen++
	gen := s.gen
	s.state = eventbus.StateConnecting
	s.mu.Unlock()
	s.emitStatus()

	cred, err := s.credential(ctx)
	if err != nil {
		return s.fail(gen, err)
	}
	header := http.Header{}
	header.Set("Authorization", cred.Header())
	stream, err := s.dialStream(ctx, header)
	if err != nil {
		return s.fail(gen, err)
	}

	s.mu.Lock()
	if gen != s.gen || !s.active {
		s.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	s.stream = stream
	s.connecting = false
	s.attempt = 0
	s.quality = backoff.QualityGood
	s.state = eventbus.StateConnected
	s.lastHeartbeat = s.clk.Now()
	s.exhausted = false
	s.authRetried = false
	s.lastErr = nil
	s.mu.Unlock()

	s.log.Info("notification stream connected", zap.String("subject", cred.Subject))
	s.emitStatus()
	safe.SafeGo(func() { s.readLoop(gen, stream) })
	return nil
}

// dialStream dials under a context detached from ctx so the stream survives
// the caller. Cancelling ctx before the dial returns aborts it.
func (s *Service) dialStream(ctx context.Context, header http.Header) (EventStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.As(errs.ErrTransport, err)
	}
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	stream, err := s.dial(dctx, s.cfg.streamURL(), header)
	if !stop() {
		// ctx fired while dialing
		if stream != nil {
			_ = stream.Close()
		}
		cancel()
		return nil, errs.As(errs.ErrTransport, ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return &boundStream{EventStream: stream, cancel: cancel}, nil
}

// boundStream releases the dial context when the stream closes.
type boundStream struct {
	EventStream
	cancel context.CancelFunc
}

func (b *boundStream) Close() error {
	err := b.EventStream.Close()
	b.cancel()
	return err
}

func (s *Service) credential(ctx context.Context) (*security.Credential, error) {
	if s.creds == nil {
		return nil, errs.ErrCredentialMissing.WrapMsg("no credential provider")
	}
	raw, err := s.creds.Token(ctx)
	if cerr := ctx.Err(); cerr != nil {
		// caller gave up; not a credential problem
		return nil, errs.As(errs.ErrTransport, cerr)
	}
	if err != nil {
		return nil, errs.As(errs.ErrCredentialMissing, err)
	}
	return security.Inspect(raw, s.clk.Now())
}

// fail classifies a connect or stream error for generation gen.
func (s *Service) fail(gen uint64, err error) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return err
	}
	s.connecting = false
	s.stream = nil
	s.state = eventbus.StateDisconnected
	s.lastErr = err

	switch {
	case errs.IsFatalPrecondition(err):
		s.fatal = true
		s.log.Warn("notification channel stopped: credential unusable", zap.Error(err))
	case errs.IsAuthRejected(err) && !s.authRetried && s.active:
		s.authRetried = true
		s.mu.Unlock()
		s.log.Info("notification stream rejected credential, refreshing", zap.Error(err))
		s.emitStatus()
		return s.refreshAndReconnect(gen)
	case errs.IsAuthRejected(err):
		s.fatal = true
		s.log.Warn("notification stream rejected refreshed credential", zap.Error(err))
	default:
		s.log.Debug("notification stream failure", zap.Int("attempt", s.attempt), zap.Error(err))
		s.scheduleRetryLocked()
	}
	s.mu.Unlock()
	s.emitStatus()
	return err
}

func (s *Service) refreshAndReconnect(gen uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.creds == nil {
		return s.fail(gen, errs.ErrCredentialMissing.WrapMsg("no credential provider"))
	}
	if _, err := s.creds.Refresh(ctx); err != nil {
		s.mu.Lock()
		if gen == s.gen {
			s.fatal = true
			s.lastErr = err
		}
		s.mu.Unlock()
		s.log.Warn("credential refresh failed", zap.Error(err))
		s.emitStatus()
		return err
	}
	return s.connect(ctx)
}

// scheduleRetryLocked arms the single reconnect timer.
func (s *Service) scheduleRetryLocked() {
	if s.reconnecting || !s.active || s.fatal {
		return
	}
	if s.cfg.Backoff.Exhausted(s.attempt) {
		s.exhausted = true
		s.state = eventbus.StateDisconnected
		s.log.Warn("notification reconnect attempts exhausted", zap.Int("attempts", s.attempt))
		return
	}
	delay := s.cfg.Backoff.Delay(s.attempt)
	s.attempt++
	s.reconnecting = true
	s.retryTimer = s.clk.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnecting = false
		s.retryTimer = nil
		s.mu.Unlock()
		_ = s.connect(context.Background())
	})
}

// Reconnect drops the current stream, clears exhaustion and fatal state and
// connects right away.
func (s *Service) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return errs.ErrClosed.WrapMsg("no listener registered")
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.reconnecting = false
	stream := s.stream
	s.stream = nil
	s.connecting = false
	s.gen++
	s.attempt = 0
	s.exhausted = false
	s.fatal = false
	s.authRetried = false
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	s.log.Info("notification channel manual reconnect")
	if err := s.connect(ctx); err != nil {
		return err
	}
	if !s.IsConnected() {
		return errs.ErrNotConnected.Wrap()
	}
	return nil
}

func (s *Service) readLoop(gen uint64, stream EventStream) {
	for {
		ev, err := stream.Next()
		if err != nil {
			s.mu.Lock()
			current := gen == s.gen
			s.mu.Unlock()
			if current {
				_ = stream.Close()
				s.fail(gen, err)
			}
			return
		}
		s.handle(gen, ev)
	}
}
