package message

import (
	"sort"
	"sync"

	"DeepGround/module/chat/model"
)

// Store holds message history per room. Messages are unique by id and kept
// sorted by createdAt, whichever path (snapshot, live, history) delivers them.
type Store struct {
	mu    sync.RWMutex
	rooms map[int64]*RoomState
}

func NewStore() *Store {
	return &Store{rooms: make(map[int64]*RoomState)}
}

// Ensure creates an empty loading entry for a room never seen before.
func (s *Store) Ensure(roomID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; ok {
		return false
	}
	s.rooms[roomID] = newRoomState(roomID)
	return true
}

func (s *Store) room(roomID int64) *RoomState {
	r, ok := s.rooms[roomID]
	if !ok {
		r = newRoomState(roomID)
		s.rooms[roomID] = r
	}
	return r
}

// ApplySnapshot merges the init snapshot into the room and clears loading.
// Messages that arrived live before the snapshot are kept once.
func (s *Store) ApplySnapshot(roomID int64, snap model.RoomSnapshot) (latest model.Timestamp, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	for _, m := range snap.Messages {
		insert(r, m)
	}
	r.NextCursor = snap.NextCursor
	r.HasNext = snap.HasNext
	for _, mi := range snap.MemberInfos {
		setMember(r, mi)
	}
	r.Loading = false
	r.Visible = true
	return r.Latest()
}

// Append adds a live message unless its id is already present. newest reports
// whether the message landed at the tail.
func (s *Store) Append(roomID int64, msg model.ChatMessage) (appended, newest bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	idx, ok := insert(r, msg)
	if !ok {
		return false, false
	}
	return true, idx == len(r.Messages)-1
}

// Prepend merges an older history page and moves the cursor.
func (s *Store) Prepend(roomID int64, page model.MessagePage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	added := 0
	for _, m := range page.Messages {
		if _, ok := insert(r, m); ok {
			added++
		}
	}
	r.NextCursor = page.NextCursor
	r.HasNext = page.HasNext
	r.Loading = false
	r.Visible = true
	return added
}

// insert places msg after every message with createdAt <= msg.createdAt.
func insert(r *RoomState, msg model.ChatMessage) (int, bool) {
	if _, dup := r.ids[msg.ID]; dup {
		return -1, false
	}
	r.ids[msg.ID] = struct{}{}
	idx := sort.Search(len(r.Messages), func(i int) bool {
		return msg.CreatedAt.Before(r.Messages[i].CreatedAt)
	})
	r.Messages = append(r.Messages, model.ChatMessage{})
	copy(r.Messages[idx+1:], r.Messages[idx:])
	r.Messages[idx] = msg
	return idx, true
}

// ApplyReadReceipt moves a member's read marker forward. It reports false when
// the member is unknown to the room.
func (s *Store) ApplyReadReceipt(roomID int64, rc model.ReadReceipt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	mi, ok := r.Members[rc.MemberID]
	if !ok {
		return false
	}
	if mi.LastReadMessageTime.Before(rc.LastReadMessageTime) {
		mi.LastReadMessageTime = rc.LastReadMessageTime
		r.Members[rc.MemberID] = mi
	}
	return true
}

// SetMember records a fetched profile. A known read marker is never moved back.
func (s *Store) SetMember(roomID int64, info model.MemberInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	setMember(r, info)
}

func setMember(r *RoomState, info model.MemberInfo) {
	if old, ok := r.Members[info.MemberID]; ok && info.LastReadMessageTime.Before(old.LastReadMessageTime) {
		info.LastReadMessageTime = old.LastReadMessageTime
	}
	r.Members[info.MemberID] = info
}

func (s *Store) SetLoading(roomID int64, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).Loading = loading
}

// MarkFailed ends loading and shows whatever content the room has.
func (s *Store) MarkFailed(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.Loading = false
	r.Visible = true
}

// Room returns a copy of the room state.
func (s *Store) Room(roomID int64) (RoomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return RoomState{}, false
	}
	return r.clone(), true
}

func (s *Store) Has(roomID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Me returns the member flagged as the local user in this room.
func (s *Store) Me(roomID int64) (model.MemberInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return model.MemberInfo{}, false
	}
	return r.me()
}

func (s *Store) Cursor(roomID int64) (cursor *string, hasNext bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, false
	}
	return r.NextCursor, r.HasNext
}

// UnreadFor counts members other than the sender whose read marker is older
// than the message.
func (s *Store) UnreadFor(roomID int64, messageID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	var msg *model.ChatMessage
	for i := range r.Messages {
		if r.Messages[i].ID == messageID {
			msg = &r.Messages[i]
			break
		}
	}
	if msg == nil {
		return 0
	}
	n := 0
	for _, m := range r.Members {
		if m.MemberID == msg.SenderID {
			continue
		}
		if m.LastReadMessageTime.Before(msg.CreatedAt) {
			n++
		}
	}
	return n
}

// MissingMembers returns the distinct senders of the room's messages that have
// no member info yet.
func (s *Store) MissingMembers(roomID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	seen := make(map[int64]struct{})
	var out []int64
	for _, m := range r.Messages {
		if _, ok := r.Members[m.SenderID]; ok {
			continue
		}
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		out = append(out, m.SenderID)
	}
	return out
}

func (s *Store) HasMember(roomID, memberID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = r.Members[memberID]
	return ok
}
