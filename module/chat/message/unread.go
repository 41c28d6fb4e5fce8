package message

import "sync"

// UnreadBook keeps server reported unread counts per room next to a local
// override flag. While a room's override is set its count reads as zero.
type UnreadBook struct {
	mu       sync.RWMutex
	server   map[int64]int
	override map[int64]bool
	selected int64
}

func NewUnreadBook() *UnreadBook {
	return &UnreadBook{
		server:   make(map[int64]int),
		override: make(map[int64]bool),
	}
}

// Select sets the override for room and clears the previous selection.
func (b *UnreadBook) Select(roomID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deselect()
	b.selected = roomID
	b.override[roomID] = true
}

// Deselect ends the override. The room is left at zero since the user saw it.
func (b *UnreadBook) Deselect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deselect()
}

func (b *UnreadBook) deselect() {
	if b.selected == 0 {
		return
	}
	b.server[b.selected] = 0
	delete(b.override, b.selected)
	b.selected = 0
}

func (b *UnreadBook) Selected() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selected
}

// SetServer records a server count and returns the effective value.
func (b *UnreadBook) SetServer(roomID int64, n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	b.server[roomID] = n
	return b.count(roomID)
}

// Incr bumps the server count for a live message in a room not being viewed.
func (b *UnreadBook) Incr(roomID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.override[roomID] {
		b.server[roomID]++
	}
	return b.count(roomID)
}

func (b *UnreadBook) Count(roomID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count(roomID)
}

func (b *UnreadBook) count(roomID int64) int {
	if b.override[roomID] {
		return 0
	}
	return b.server[roomID]
}

// Overridden reports whether the local override is active for room.
func (b *UnreadBook) Overridden(roomID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.override[roomID]
}

func (b *UnreadBook) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for id := range b.server {
		n += b.count(id)
	}
	return n
}
