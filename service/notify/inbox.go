package notify

import (
	"sort"
	"sync"

	"DeepGround/module/chat/model"
)

// Inbox holds notifications newest-first, unique by id, and the badge count.
type Inbox struct {
	mu         sync.RWMutex
	items      []model.Notification
	ids        map[string]struct{}
	unread     int
	nextCursor string
	hasNext    bool
}

func NewInbox() *Inbox {
	return &Inbox{ids: make(map[string]struct{}), hasNext: true}
}

// Add inserts a pushed notification. It returns false for a duplicate id.
func (b *Inbox) Add(n model.Notification) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insert(n)
}

func (b *Inbox) insert(n model.Notification) bool {
	if _, dup := b.ids[n.ID]; dup {
		return false
	}
	b.ids[n.ID] = struct{}{}
	idx := sort.Search(len(b.items), func(i int) bool {
		return b.items[i].CreatedAt.Before(n.CreatedAt)
	})
	b.items = append(b.items, model.Notification{})
	copy(b.items[idx+1:], b.items[idx:])
	b.items[idx] = n
	return true
}

// AppendPage merges a backfilled page and remembers its cursor.
func (b *Inbox) AppendPage(p model.NotificationPage) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	added := 0
	for _, n := range p.Notifications {
		if b.insert(n) {
			added++
		}
	}
	b.nextCursor = p.NextCursor
	b.hasNext = p.HasNext
	return added
}

func (b *Inbox) MarkRead(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID != id {
			continue
		}
		if b.items[i].Read {
			return false
		}
		b.items[i].Read = true
		if b.unread > 0 {
			b.unread--
		}
		return true
	}
	return false
}

func (b *Inbox) MarkAllRead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		b.items[i].Read = true
	}
	b.unread = 0
}

func (b *Inbox) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID != id {
			continue
		}
		if !b.items[i].Read && b.unread > 0 {
			b.unread--
		}
		b.items = append(b.items[:i], b.items[i+1:]...)
		delete(b.ids, id)
		return true
	}
	return false
}

func (b *Inbox) SetUnread(n int) {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	b.unread = n
	b.mu.Unlock()
}

func (b *Inbox) Unread() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unread
}

func (b *Inbox) List() []model.Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]model.Notification(nil), b.items...)
}

func (b *Inbox) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

func (b *Inbox) Cursor() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextCursor, b.hasNext
}
