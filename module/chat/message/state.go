package message

import (
	"DeepGround/module/chat/model"
)

// RoomState is the per-room aggregate. One instance per room, created lazily
// and kept for the lifetime of the session.
type RoomState struct {
	ChatRoomID int64
	Messages   []model.ChatMessage
	NextCursor *string
	HasNext    bool
	Members    map[int64]model.MemberInfo
	Loading    bool
	// Visible is set once content may be shown, even after a failed snapshot.
	Visible bool

	ids map[string]struct{}
}

func newRoomState(roomID int64) *RoomState {
	return &RoomState{
		ChatRoomID: roomID,
		Members:    make(map[int64]model.MemberInfo),
		Loading:    true,
		ids:        make(map[string]struct{}),
	}
}

func (r *RoomState) clone() RoomState {
	out := *r
	out.Messages = append([]model.ChatMessage(nil), r.Messages...)
	out.Members = make(map[int64]model.MemberInfo, len(r.Members))
	for k, v := range r.Members {
		out.Members[k] = v
	}
	if r.NextCursor != nil {
		c := *r.NextCursor
		out.NextCursor = &c
	}
	out.ids = nil
	return out
}

// Latest returns the newest message timestamp.
func (r *RoomState) Latest() (model.Timestamp, bool) {
	if len(r.Messages) == 0 {
		return model.Timestamp{}, false
	}
	return r.Messages[len(r.Messages)-1].CreatedAt, true
}

func (r *RoomState) me() (model.MemberInfo, bool) {
	for _, m := range r.Members {
		if m.Me {
			return m, true
		}
	}
	return model.MemberInfo{}, false
}
