package notify

import (
	"encoding/json"
	"strconv"
	"strings"

	"DeepGround/module/chat/model"
	"DeepGround/service/eventbus"
	"DeepGround/service/sse"
	"DeepGround/tools/backoff"
	"DeepGround/tools/errs"

	"go.uber.org/zap"
)

// Stream event names.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
	EventUnreadCount  = "unreadCount"
	EventPresence     = "presence"
	EventHeartbeat    = "heartbeat"
)

// handle applies one stream event. Any event counts as a heartbeat; a payload
// that does not parse is dropped without touching the connection.
func (s *Service) handle(gen uint64, ev *sse.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	s.lastHeartbeat = now
	recovered := s.quality != backoff.QualityGood
	if recovered {
		s.quality = backoff.QualityGood
		s.state = eventbus.StateConnected
	}
	ls := s.listenersLocked()
	s.mu.Unlock()
	if recovered {
		s.emitStatus()
	}

	out, toBus, err := s.decode(ev)
	if err != nil {
		s.log.Warn("dropping malformed stream event", zap.String("event", ev.Event), zap.Error(err))
		return
	}
	if out == nil {
		return
	}
	s.emit(ls, out, toBus)
}

func (s *Service) decode(ev *sse.Event) (eventbus.Event, bool, error) {
	switch ev.Event {
	case EventHeartbeat:
		return eventbus.HeartbeatEvent{At: s.clk.Now()}, false, nil
	case EventConnected:
		s.log.Debug("notification stream greeting", zap.ByteString("data", ev.Data))
		return nil, false, nil
	case EventNotification:
		var n model.Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			return nil, false, errs.As(errs.ErrProtocol, err)
		}
		if err := n.Validate(); err != nil {
			return nil, false, errs.As(errs.ErrProtocol, err)
		}
		if n.Data != nil {
			if _, err := n.Payload(); err != nil {
				return nil, false, errs.As(errs.ErrProtocol, err)
			}
		}
		if !s.inbox.Add(n) {
			return nil, false, nil
		}
		return eventbus.NotificationEvent{Notification: n}, true, nil
	case EventUnreadCount:
		p, err := parseUnread(ev.Data)
		if err != nil {
			return nil, false, err
		}
		if p.Scope == "" {
			p.Scope = model.ScopeNotification
		}
		if p.Scope == model.ScopeNotification {
			s.inbox.SetUnread(p.UnreadCount)
		}
		return eventbus.UnreadCountEvent{Scope: p.Scope, ChatRoomID: p.ChatRoomID, Count: p.UnreadCount}, true, nil
	case EventPresence:
		var p model.PresencePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, false, errs.As(errs.ErrProtocol, err)
		}
		if p.MemberID == 0 || (p.Status != model.Online && p.Status != model.Offline) {
			return nil, false, errs.ErrProtocol.WrapMsg("bad presence payload", "data", string(ev.Data))
		}
		at := p.At.Time
		if at.IsZero() {
			at = s.clk.Now()
		}
		return eventbus.PresenceEvent{MemberID: p.MemberID, Status: p.Status, At: at}, true, nil
	}
	s.log.Debug("ignoring unknown stream event", zap.String("event", ev.Event))
	return nil, false, nil
}

// parseUnread accepts both the object form and a bare number.
func parseUnread(data []byte) (model.UnreadCountPayload, error) {
	var p model.UnreadCountPayload
	raw := strings.TrimSpace(string(data))
	if n, err := strconv.Atoi(raw); err == nil {
		p.UnreadCount = n
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errs.As(errs.ErrProtocol, err)
	}
	if p.UnreadCount < 0 {
		return p, errs.ErrProtocol.WrapMsg("negative unread count")
	}
	return p, nil
}
