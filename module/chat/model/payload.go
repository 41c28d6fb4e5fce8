package model

import (
	"time"
)

type UnreadScope string

const (
	ScopeNotification UnreadScope = "NOTIFICATION"
	ScopeChat         UnreadScope = "CHAT"
)

// UnreadCountPayload is the body of an "unreadCount" stream event. Without a
// scope it refers to the notification badge.
type UnreadCountPayload struct {
	Scope       UnreadScope `json:"type,omitempty"`
	ChatRoomID  int64       `json:"chatRoomId,omitempty"`
	UnreadCount int         `json:"unreadCount"`
}

type PresenceStatus string

const (
	Online  PresenceStatus = "ONLINE"
	Offline PresenceStatus = "OFFLINE"
)

type PresencePayload struct {
	MemberID int64          `json:"memberId"`
	Status   PresenceStatus `json:"status"`
	At       Timestamp      `json:"timestamp,omitempty"`
}

type schedulePayloadRaw struct {
	ScheduleID   int64     `json:"scheduleId"`
	StudyGroupID int64     `json:"studyGroupId"`
	Title        string    `json:"title"`
	StartTime    time.Time `json:"startTime"`
}
