package chat

import (
	"context"
	"sync"

	"DeepGround/module/chat/member"
	"DeepGround/module/chat/message"
	"DeepGround/module/chat/model"
	"DeepGround/module/chat/scroll"
	"DeepGround/service/eventbus"
	"DeepGround/tools/backoff"
	"DeepGround/tools/clock"
	"DeepGround/tools/errs"
	"DeepGround/tools/safe"
	"DeepGround/tools/security"

	"go.uber.org/zap"
)

const channelName = "chat"

// API is the REST side of the chat UI.
type API interface {
	FriendRooms(ctx context.Context, page, size int) (*model.ChatRoomPage, error)
	StudyGroupRooms(ctx context.Context, page, size int) (*model.ChatRoomPage, error)
	Messages(ctx context.Context, roomID int64, cursor string, limit int) (*model.MessagePage, error)
	Member(ctx context.Context, roomID, memberID int64) (*model.MemberInfo, error)
}

type Deps struct {
	Credentials security.TokenSource
	API         API
	Dial        BrokerDialer
	Bus         *eventbus.Bus
	Clock       clock.Clock
	Log         *zap.Logger
}

type Status struct {
	State     eventbus.ConnectionState
	Attempt   int
	Exhausted bool
	Fatal     bool
	Err       error
	// Room is the selected room, 0 when none.
	Room  int64
	Phase RoomPhase
}

// Service is the messaging channel of one open chat UI. The broker session
// exists only while the UI is open and a usable credential is present.
type Service struct {
	cfg   Config
	creds security.TokenSource
	api   API
	dial  BrokerDialer
	bus   *eventbus.Bus
	clk   clock.Clock
	log   *zap.Logger

	store   *message.Store
	unread  *message.UnreadBook
	members *member.Fetcher
	tracker scroll.Tracker

	mu         sync.Mutex
	uiOpen     bool
	broker     Broker
	gen        uint64
	connecting bool
	state      eventbus.ConnectionState
	attempt    int
	exhausted  bool
	fatal      bool
	lastErr    error
	retryTimer clock.Timer

	room      *roomSub
	roomGen   uint64
	receipted map[int64]bool
	history   map[int64]bool
	viewport  scroll.Viewport
	rooms     map[model.ChatRoomKind][]model.ChatRoom

	unsubBus []func()
	closed   bool
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
	s := &Service{
		cfg:       cfg,
		creds:     d.Credentials,
		api:       d.API,
		dial:      d.Dial,
		bus:       d.Bus,
		clk:       d.Clock,
		log:       d.Log,
		store:     message.NewStore(),
		unread:    message.NewUnreadBook(),
		state:     eventbus.StateDisconnected,
		receipted: make(map[int64]bool),
		history:   make(map[int64]bool),
		rooms:     make(map[model.ChatRoomKind][]model.ChatRoom),
	}
	var fetch member.FetchFunc
	if d.API != nil {
		fetch = d.API.Member
	} else {
		fetch = func(context.Context, int64, int64) (*model.MemberInfo, error) {
			return nil, errs.ErrRequest.WrapMsg("no chat api")
		}
	}
	s.members = member.NewFetcher(fetch, d.Log.Named("member"))
	s.unsubBus = []func(){
		eventbus.On(s.bus, s.onUnreadEvent),
		eventbus.On(s.bus, s.onPresenceEvent),
	}
	return s
}

func (s *Service) Store() *message.Store { return s.store }

func (s *Service) Unread() *message.UnreadBook { return s.unread }

func (s *Service) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broker != nil
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.state,
		Attempt:   s.attempt,
		Exhausted: s.exhausted,
		Fatal:     s.fatal,
		Err:       s.lastErr,
		Phase:     PhaseUnsubscribed,
	}
	if s.room != nil {
		st.Room = s.room.id
		st.Phase = s.room.phase
	}
	return st
}

// SetUIOpen opens or closes the chat UI. Closing drops the selection and the
// broker session.
func (s *Service) SetUIOpen(ctx context.Context, open bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.ErrClosed.Wrap()
	}
	s.uiOpen = open
	if open {
		s.fatal = false
		s.exhausted = false
		s.attempt = 0
	}
	s.mu.Unlock()
	if !open {
		s.LeaveRoom()
	}
	return s.reconcile(ctx)
}

// CredentialChanged re-evaluates the connection after login, logout or a
// token refresh. A fatal or exhausted state is cleared.
func (s *Service) CredentialChanged(ctx context.Context) error {
	s.mu.Lock()
	s.fatal = false
	s.exhausted = false
	s.attempt = 0
	b := s.broker
	s.mu.Unlock()
	if b != nil {
		// the session was authenticated with the old token
		s.disconnect(nil)
	}
	return s.reconcile(ctx)
}

// Reconnect is the manual action offered once retries are exhausted.
func (s *Service) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	open := s.uiOpen
	s.fatal = false
	s.exhausted = false
	s.attempt = 0
	s.mu.Unlock()
	if !open {
		return errs.ErrClosed.WrapMsg("chat ui is closed")
	}
	s.disconnect(nil)
	if err := s.reconcile(ctx); err != nil {
		return err
	}
	if !s.IsConnected() {
		return errs.ErrNotConnected.Wrap()
	}
	return nil
}

// Close detaches from the bus and drops everything.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.uiOpen = false
	unsub := s.unsubBus
	s.unsubBus = nil
	s.mu.Unlock()
	for _, f := range unsub {
		f()
	}
	s.LeaveRoom()
	s.disconnect(nil)
}

// reconcile connects iff the UI is open and the credential is usable.
func (s *Service) reconcile(ctx context.Context) error {
	s.mu.Lock()
	open := s.uiOpen && !s.closed
	s.mu.Unlock()
	if !open {
		s.disconnect(nil)
		return nil
	}
	cred, err := s.credential(ctx)
	if err != nil {
		s.disconnect(err)
		s.mu.Lock()
		s.fatal = true
		s.mu.Unlock()
		s.log.Warn("chat channel not connected: credential unusable", zap.Error(err))
		s.emitStatus()
		return err
	}
	return s.connect(ctx, cred)
}

func (s *Service) credential(ctx context.Context) (*security.Credential, error) {
	if s.creds == nil {
		return nil, errs.ErrCredentialMissing.WrapMsg("no credential provider")
	}
	raw, err := s.creds.Token(ctx)
	if err != nil {
		return nil, errs.As(errs.ErrCredentialMissing, err)
	}
	return security.Inspect(raw, s.clk.Now())
}

func (s *Service) connect(ctx context.Context, cred *security.Credential) error {
	s.mu.Lock()
	if s.broker != nil || s.connecting {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.gen++
	gen := s.gen
	s.state = eventbus.StateConnecting
	s.mu.Unlock()
	s.emitStatus()

	b, err := s.dial(ctx, cred.Token)

	s.mu.Lock()
	if gen != s.gen || !s.uiOpen {
		s.mu.Unlock()
		if b != nil {
			_ = b.Close()
		}
		return nil
	}
	s.connecting = false
	if err != nil {
		s.lastErr = err
		s.state = eventbus.StateDisconnected
		if errs.IsAuthRejected(err) || errs.IsFatalPrecondition(err) {
			s.fatal = true
			s.log.Warn("chat broker rejected credential", zap.Error(err))
		} else {
			s.log.Debug("chat broker dial failed", zap.Int("attempt", s.attempt), zap.Error(err))
			s.scheduleRetryLocked()
		}
		s.mu.Unlock()
		s.emitStatus()
		return err
	}
	s.broker = b
	s.attempt = 0
	s.exhausted = false
	s.lastErr = nil
	s.state = eventbus.StateConnected
	var resub *roomSub
	if s.room != nil && !s.room.failed {
		s.roomGen++
		s.room.gen = s.roomGen
		s.room.phase = PhaseSubscribing
		rs := *s.room
		resub = &rs
	}
	s.mu.Unlock()

	s.log.Info("chat channel connected", zap.String("subject", cred.Subject))
	s.emitStatus()
	safe.SafeGo(func() { s.watch(gen, b) })
	if resub != nil {
		// a fresh session knows nothing about earlier subscriptions
		if err := s.subscribeRoom(b, resub.id, resub.gen); err != nil {
			s.log.Warn("chat room resubscribe failed", zap.Int64("room", resub.id), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) watch(gen uint64, b Broker) {
	<-b.Done()
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	err := b.Err()
	if err == nil {
		err = errs.ErrTransport.WrapMsg("broker session ended")
	}
	s.broker = nil
	s.state = eventbus.StateDisconnected
	s.lastErr = err
	s.resetRoomLocked()
	if errs.IsAuthRejected(err) {
		s.fatal = true
		s.log.Warn("chat broker dropped session: credential rejected", zap.Error(err))
	} else {
		s.log.Info("chat broker connection lost", zap.Error(err))
		s.scheduleRetryLocked()
	}
	s.mu.Unlock()
	s.emitStatus()
}

// scheduleRetryLocked arms the single reconnect timer.
func (s *Service) scheduleRetryLocked() {
	if s.retryTimer != nil || !s.uiOpen || s.fatal || s.closed {
		return
	}
	if s.cfg.Backoff.Exhausted(s.attempt) {
		s.exhausted = true
		s.log.Warn("chat reconnect attempts exhausted", zap.Int("attempts", s.attempt))
		return
	}
	delay := s.cfg.Backoff.Delay(s.attempt)
	s.attempt++
	s.retryTimer = s.clk.AfterFunc(delay, func() {
		s.mu.Lock()
		s.retryTimer = nil
		s.mu.Unlock()
		_ = s.reconcile(context.Background())
	})
}

// disconnect drops the broker session. The selected room stays selected and
// is subscribed again by the next connect.
func (s *Service) disconnect(cause error) {
	s.mu.Lock()
	s.gen++
	b := s.broker
	s.broker = nil
	s.connecting = false
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	changed := b != nil || s.state != eventbus.StateDisconnected
	s.state = eventbus.StateDisconnected
	if cause != nil {
		s.lastErr = cause
	}
	s.resetRoomLocked()
	s.mu.Unlock()

	if b != nil {
		_ = b.Close()
		s.log.Info("chat channel disconnected")
	}
	if changed {
		s.emitStatus()
	}
}

// resetRoomLocked invalidates the selected room's subscriptions after the
// session is gone. A room whose snapshot failed keeps its phase.
func (s *Service) resetRoomLocked() {
	if s.room == nil {
		return
	}
	s.roomGen++
	s.room.gen = s.roomGen
	s.room.subs = nil
	if !s.room.failed {
		s.room.phase = PhaseSubscribing
	}
}

func (s *Service) currentBroker() Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broker
}

func (s *Service) emitStatus() {
	s.mu.Lock()
	ev := eventbus.ConnectionEvent{
		Channel:   channelName,
		State:     s.state,
		Quality:   backoff.QualityGood,
		Attempt:   s.attempt,
		Exhausted: s.exhausted,
		Fatal:     s.fatal,
	}
	if s.lastErr != nil {
		ev.Err = s.lastErr.Error()
	}
	s.mu.Unlock()
	s.bus.Publish(ev)
}
