package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"DeepGround/module/chat/model"
	"DeepGround/module/chat/scroll"
	"DeepGround/service/eventbus"
	"DeepGround/tools/errs"

	"go.uber.org/zap"
)

type RoomPhase string

const (
	PhaseUnsubscribed RoomPhase = "unsubscribed"
	PhaseSubscribing  RoomPhase = "subscribing"
	PhaseLive         RoomPhase = "live"
)

// roomSub is the selected room with its three broker subscriptions. gen
// changes whenever the subscriptions are replaced so late deliveries from the
// old ones are ignored. failed marks a room whose snapshot could not be read;
// it stays unsubscribed until the next SelectRoom.
type roomSub struct {
	id     int64
	gen    uint64
	phase  RoomPhase
	subs   []Subscription
	failed bool
}

// SelectRoom switches the displayed room. The previous room's streams are
// unsubscribed before anything of the new room is touched.
func (s *Service) SelectRoom(_ context.Context, roomID int64) error {
	s.LeaveRoom()

	s.unread.Select(roomID)
	s.refreshRoomUnread(roomID)
	if s.store.Ensure(roomID) {
		s.log.Debug("chat room entry created", zap.Int64("room", roomID))
	}
	s.tracker.Reset()

	s.mu.Lock()
	s.roomGen++
	rs := &roomSub{id: roomID, gen: s.roomGen, phase: PhaseSubscribing}
	s.room = rs
	b := s.broker
	s.mu.Unlock()

	if b == nil {
		// subscribed by connect once the session is up
		s.log.Debug("chat room selected while offline", zap.Int64("room", roomID))
		return nil
	}
	return s.subscribeRoom(b, roomID, rs.gen)
}

// LeaveRoom unsubscribes the selected room, if any.
func (s *Service) LeaveRoom() {
	s.mu.Lock()
	rs := s.room
	s.room = nil
	if rs != nil {
		s.roomGen++
	}
	s.mu.Unlock()
	if rs == nil {
		return
	}
	for _, sub := range rs.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.log.Debug("chat unsubscribe failed", zap.Int64("room", rs.id), zap.Error(err))
		}
	}
	s.unread.Deselect()
	s.refreshRoomUnread(rs.id)
}

// RoomPhase reports the subscription state of roomID.
func (s *Service) RoomPhase(roomID int64) RoomPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil || s.room.id != roomID {
		return PhaseUnsubscribed
	}
	return s.room.phase
}

func (s *Service) subscribeRoom(b Broker, roomID int64, gen uint64) error {
	r := s.cfg.Routes
	var subs []Subscription
	add := func(tmpl string, h MessageHandler) error {
		sub, err := b.Subscribe(fmt.Sprintf(tmpl, roomID), h)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}
	// live streams go first so nothing published after the snapshot is missed
	err := add(r.Message, func(body []byte) { s.onMessage(roomID, gen, body) })
	if err == nil {
		err = add(r.Read, func(body []byte) { s.onReadReceipt(roomID, gen, body) })
	}
	if err == nil {
		err = add(r.Init, func(body []byte) { s.onSnapshot(roomID, gen, body) })
	}
	if err != nil {
		unsubscribeAll(subs)
		s.store.MarkFailed(roomID)
		s.mu.Lock()
		if s.room != nil && s.room.gen == gen {
			s.room.phase = PhaseUnsubscribed
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.room == nil || s.room.gen != gen {
		s.mu.Unlock()
		unsubscribeAll(subs)
		return nil
	}
	s.room.subs = subs
	s.mu.Unlock()

	if r.InitRequest != "" {
		body, _ := json.Marshal(map[string]int64{"chatRoomId": roomID})
		if err := b.Publish(fmt.Sprintf(r.InitRequest, roomID), body); err != nil {
			s.log.Warn("chat init request failed", zap.Int64("room", roomID), zap.Error(err))
		}
	}
	return nil
}

func unsubscribeAll(subs []Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// current reports whether a delivery for roomID/gen still belongs to the
// selected room.
func (s *Service) current(roomID int64, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room != nil && s.room.id == roomID && s.room.gen == gen
}

func (s *Service) displayed(roomID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uiOpen && s.room != nil && s.room.id == roomID
}

func (s *Service) onSnapshot(roomID int64, gen uint64, body []byte) {
	if !s.current(roomID, gen) {
		return
	}
	var snap model.RoomSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		s.log.Warn("chat snapshot unreadable, dropping room subscription", zap.Int64("room", roomID), zap.Error(err))
		s.store.MarkFailed(roomID)
		s.dropRoomSubs(roomID, gen)
		return
	}
	latest, ok := s.store.ApplySnapshot(roomID, snap)

	s.mu.Lock()
	if s.room != nil && s.room.gen == gen {
		s.room.phase = PhaseLive
	}
	first := ok && !s.receipted[roomID]
	s.mu.Unlock()

	for _, id := range s.store.MissingMembers(roomID) {
		s.requestMember(roomID, id, nil)
	}
	if first {
		s.sendReceipt(roomID, latest)
	}
}

// dropRoomSubs tears down the subscriptions but keeps the room selected. The
// next SelectRoom starts over.
func (s *Service) dropRoomSubs(roomID int64, gen uint64) {
	s.mu.Lock()
	if s.room == nil || s.room.gen != gen {
		s.mu.Unlock()
		return
	}
	subs := s.room.subs
	s.room.subs = nil
	s.room.phase = PhaseUnsubscribed
	s.room.failed = true
	s.roomGen++
	s.room.gen = s.roomGen
	s.mu.Unlock()
	unsubscribeAll(subs)
}

func (s *Service) onMessage(roomID int64, gen uint64, body []byte) {
	if !s.current(roomID, gen) {
		return
	}
	var msg model.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.ID == "" {
		s.log.Warn("dropping unreadable chat message", zap.Int64("room", roomID), zap.Error(err))
		return
	}
	me, hasMe := s.store.Me(roomID)
	fromMe := hasMe && me.MemberID == msg.SenderID

	s.mu.Lock()
	vp := s.viewport
	s.mu.Unlock()
	var before scroll.Metrics
	if vp != nil {
		before = vp.Metrics()
	}

	appended, newest := s.store.Append(roomID, msg)
	if !appended {
		return
	}
	if !s.store.HasMember(roomID, msg.SenderID) {
		s.requestMember(roomID, msg.SenderID, nil)
	}
	// selected room: the book keeps this at zero
	s.unread.Incr(roomID)
	s.refreshRoomUnread(roomID)

	if !fromMe && newest && s.displayed(roomID) {
		s.sendReceipt(roomID, msg.CreatedAt)
	}
	if s.tracker.OnMessage(fromMe, before) && vp != nil {
		vp.AfterRepaint(func() {
			m := vp.Metrics()
			vp.SetScrollTop(max(m.ScrollHeight-m.ClientHeight, 0))
		})
	}
	s.bus.Publish(eventbus.ChatMessageEvent{ChatRoomID: roomID, Message: msg, FromMe: fromMe})
}

func (s *Service) onReadReceipt(roomID int64, gen uint64, body []byte) {
	if !s.current(roomID, gen) {
		return
	}
	var rc model.ReadReceipt
	if err := json.Unmarshal(body, &rc); err != nil || rc.MemberID == 0 {
		s.log.Warn("dropping unreadable read receipt", zap.Int64("room", roomID), zap.Error(err))
		return
	}
	if rc.ChatRoomID == 0 {
		rc.ChatRoomID = roomID
	}
	if !s.store.ApplyReadReceipt(roomID, rc) {
		s.requestMember(roomID, rc.MemberID, func() { s.store.ApplyReadReceipt(roomID, rc) })
	}
	s.bus.Publish(eventbus.ReadReceiptEvent{Receipt: rc})
}

func (s *Service) requestMember(roomID, memberID int64, then func()) {
	s.members.Request(roomID, memberID, func(info model.MemberInfo) {
		s.store.SetMember(roomID, info)
		if then != nil {
			then()
		}
	})
}

// SendMessage publishes a message to the selected room. Nothing is stored
// locally; the message shows up through the room's message stream.
func (s *Service) SendMessage(_ context.Context, roomID int64, text string, mediaIDs []string) error {
	if text == "" && len(mediaIDs) == 0 {
		return errs.ErrUserAction.WrapMsg("empty message")
	}
	if s.cfg.Routes.Send == "" {
		return errs.ErrUserAction.WrapMsg("sending is not supported by this broker")
	}
	s.mu.Lock()
	b := s.broker
	selected := s.room != nil && s.room.id == roomID
	s.mu.Unlock()
	if !selected {
		return errs.ErrUserAction.WrapMsg("room is not selected", "room", roomID)
	}
	if b == nil {
		return errs.ErrUserAction.WrapMsg("chat is offline")
	}
	body, err := json.Marshal(outgoing{Message: text, MediaIDs: mediaIDs})
	if err != nil {
		return errs.As(errs.ErrUserAction, err)
	}
	if err := b.Publish(fmt.Sprintf(s.cfg.Routes.Send, roomID), body); err != nil {
		return errs.As(errs.ErrUserAction, err)
	}
	return nil
}

type outgoing struct {
	Message  string   `json:"message"`
	MediaIDs []string `json:"mediaIds,omitempty"`
}

// sendReceipt publishes a read marker. Best effort: failures are only logged.
func (s *Service) sendReceipt(roomID int64, at model.Timestamp) {
	b := s.currentBroker()
	if b == nil {
		return
	}
	body, err := json.Marshal(model.ReadRequest{ChatRoomID: roomID, LatestMessageTime: at})
	if err != nil {
		return
	}
	if err := b.Publish(fmt.Sprintf(s.cfg.Routes.ReadPublish, roomID), body); err != nil {
		s.log.Debug("read receipt not sent", zap.Int64("room", roomID), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.receipted[roomID] = true
	s.mu.Unlock()
}
