package model

type ChatRoomKind string

const (
	FriendRoom     ChatRoomKind = "FRIEND"
	StudyGroupRoom ChatRoomKind = "STUDY_GROUP"
)

// ChatRoom is a list entry. Friend rooms carry the peer presence, study group
// rooms the member count.
type ChatRoom struct {
	ChatRoomID  int64          `json:"chatRoomId"`
	Kind        ChatRoomKind   `json:"kind"`
	Name        string         `json:"name"`
	Avatar      string         `json:"avatar,omitempty"`
	UnreadCount int            `json:"unreadCount"`
	PeerID      int64          `json:"friendId,omitempty"`
	Status      PresenceStatus `json:"status,omitempty"`
	MemberCount int            `json:"memberCount,omitempty"`
}

type ChatRoomPage struct {
	ChatRooms []ChatRoom `json:"chatRooms"`
	HasNext   bool       `json:"hasNext"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	SenderID  int64     `json:"senderId"`
	Message   string    `json:"message"`
	MediaIDs  []string  `json:"mediaIds,omitempty"`
	CreatedAt Timestamp `json:"createdAt"`
}

// MemberInfo is room scoped: Me marks the local user inside this room only.
type MemberInfo struct {
	MemberID            int64     `json:"memberId"`
	Nickname            string    `json:"nickname"`
	LastReadMessageTime Timestamp `json:"lastReadMessageTime"`
	Me                  bool      `json:"me"`
}

type MessagePage struct {
	Messages   []ChatMessage `json:"messages"`
	NextCursor *string       `json:"nextCursor"`
	HasNext    bool          `json:"hasNext"`
}

// RoomSnapshot is delivered once when a room subscription begins.
type RoomSnapshot struct {
	MessagePage
	MemberInfos []MemberInfo `json:"memberInfos"`
}

// ReadReceipt is broadcast when a member has read up to LastReadMessageTime.
type ReadReceipt struct {
	ChatRoomID          int64     `json:"chatRoomId,omitempty"`
	MemberID            int64     `json:"memberId"`
	LastReadMessageTime Timestamp `json:"lastReadMessageTime"`
}

// ReadRequest is published by the client to mark a room read.
type ReadRequest struct {
	ChatRoomID        int64     `json:"chatRoomId"`
	LatestMessageTime Timestamp `json:"latestMessageTime"`
}
