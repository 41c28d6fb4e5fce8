package chat

import (
	"context"

	"DeepGround/module/chat/model"
	"DeepGround/module/chat/scroll"
	"DeepGround/service/eventbus"
	"DeepGround/tools/errs"

	"go.uber.org/zap"
)

// LoadFriendRooms fetches one page of friend rooms. Page 0 replaces the list,
// later pages extend it.
func (s *Service) LoadFriendRooms(ctx context.Context, page int) (*model.ChatRoomPage, error) {
	return s.loadRooms(ctx, model.FriendRoom, page)
}

func (s *Service) LoadStudyGroupRooms(ctx context.Context, page int) (*model.ChatRoomPage, error) {
	return s.loadRooms(ctx, model.StudyGroupRoom, page)
}

func (s *Service) loadRooms(ctx context.Context, kind model.ChatRoomKind, page int) (*model.ChatRoomPage, error) {
	if s.api == nil {
		return nil, errs.ErrUserAction.WrapMsg("no chat api")
	}
	fetch := s.api.FriendRooms
	if kind == model.StudyGroupRoom {
		fetch = s.api.StudyGroupRooms
	}
	p, err := fetch(ctx, page, s.cfg.RoomPageSize)
	if err != nil {
		return nil, errs.As(errs.ErrUserAction, err)
	}
	out := &model.ChatRoomPage{HasNext: p.HasNext, ChatRooms: make([]model.ChatRoom, 0, len(p.ChatRooms))}
	for _, r := range p.ChatRooms {
		r.Kind = kind
		r.UnreadCount = s.unread.SetServer(r.ChatRoomID, r.UnreadCount)
		out.ChatRooms = append(out.ChatRooms, r)
	}

	s.mu.Lock()
	list := s.rooms[kind]
	if page <= 0 {
		list = nil
	}
	idx := make(map[int64]int, len(list))
	for i, r := range list {
		idx[r.ChatRoomID] = i
	}
	for _, r := range out.ChatRooms {
		if i, ok := idx[r.ChatRoomID]; ok {
			list[i] = r
			continue
		}
		idx[r.ChatRoomID] = len(list)
		list = append(list, r)
	}
	s.rooms[kind] = list
	s.mu.Unlock()
	return out, nil
}

// Rooms returns the loaded rooms of kind with their effective unread counts.
func (s *Service) Rooms(kind model.ChatRoomKind) []model.ChatRoom {
	s.mu.Lock()
	out := append([]model.ChatRoom(nil), s.rooms[kind]...)
	s.mu.Unlock()
	for i := range out {
		out[i].UnreadCount = s.unread.Count(out[i].ChatRoomID)
	}
	return out
}

// refreshRoomUnread copies the effective count into the room lists.
func (s *Service) refreshRoomUnread(roomID int64) {
	n := s.unread.Count(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, list := range s.rooms {
		for i := range list {
			if list[i].ChatRoomID == roomID {
				list[i].UnreadCount = n
			}
		}
		s.rooms[kind] = list
	}
}

func (s *Service) onUnreadEvent(ev eventbus.UnreadCountEvent) {
	if ev.Scope != model.ScopeChat || ev.ChatRoomID == 0 {
		return
	}
	s.unread.SetServer(ev.ChatRoomID, ev.Count)
	s.refreshRoomUnread(ev.ChatRoomID)
}

func (s *Service) onPresenceEvent(ev eventbus.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.rooms[model.FriendRoom]
	for i := range list {
		if list[i].PeerID == ev.MemberID {
			list[i].Status = ev.Status
		}
	}
}

// AttachViewport connects the rendered message list. nil detaches it.
func (s *Service) AttachViewport(v scroll.Viewport) {
	s.mu.Lock()
	s.viewport = v
	s.mu.Unlock()
}

// OnUserScroll feeds manual scrolling into the "new message" affordance.
func (s *Service) OnUserScroll() {
	s.mu.Lock()
	vp := s.viewport
	s.mu.Unlock()
	if vp != nil {
		s.tracker.OnUserScroll(vp.Metrics())
	}
}

// HasNewMessage reports whether a message arrived out of view.
func (s *Service) HasNewMessage() bool { return s.tracker.HasNew() }

// LoadOlderMessages prepends the page before the room's cursor and keeps the
// viewport anchored. vp may be nil, in which case the attached one is used.
func (s *Service) LoadOlderMessages(ctx context.Context, roomID int64, vp scroll.Viewport) (int, error) {
	if s.api == nil {
		return 0, errs.ErrUserAction.WrapMsg("no chat api")
	}
	cursor, hasNext := s.store.Cursor(roomID)
	if !hasNext || cursor == nil {
		return 0, nil
	}
	s.mu.Lock()
	if s.history[roomID] {
		s.mu.Unlock()
		return 0, nil
	}
	s.history[roomID] = true
	if vp == nil {
		vp = s.viewport
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.history, roomID)
		s.mu.Unlock()
	}()

	var anchor scroll.Anchor
	if vp != nil {
		anchor = scroll.Capture(vp)
	}
	s.store.SetLoading(roomID, true)
	page, err := s.api.Messages(ctx, roomID, *cursor, s.cfg.HistoryPageSize)
	if err != nil {
		s.store.SetLoading(roomID, false)
		s.log.Warn("chat history fetch failed", zap.Int64("room", roomID), zap.Error(err))
		return 0, errs.As(errs.ErrUserAction, err)
	}
	added := s.store.Prepend(roomID, *page)
	for _, id := range s.store.MissingMembers(roomID) {
		s.requestMember(roomID, id, nil)
	}
	if vp != nil && added > 0 {
		anchor.Restore(vp)
	}
	return added, nil
}

// MessageUnreadCount is the number of members, sender excluded, who have not
// read up to the message.
func (s *Service) MessageUnreadCount(roomID int64, messageID string) int {
	return s.store.UnreadFor(roomID, messageID)
}
