package model

import (
	"fmt"

	"DeepGround/tools/decode"
)

type NotificationType string

const (
	FriendRequest    NotificationType = "FRIEND_REQUEST"
	FriendAccept     NotificationType = "FRIEND_ACCEPT"
	StudyGroupJoin   NotificationType = "STUDY_GROUP_JOIN"
	StudyGroupKick   NotificationType = "STUDY_GROUP_KICK"
	StudyGroupAccept NotificationType = "STUDY_GROUP_ACCEPT"
	ScheduleCreate   NotificationType = "SCHEDULE_CREATE"
	ScheduleReminder NotificationType = "SCHEDULE_REMINDER"
	FeedComment      NotificationType = "FEED_COMMENT"
	QnAAnswer        NotificationType = "QNA_ANSWER"
	QnAComment       NotificationType = "QNA_COMMENT"
)

func (t NotificationType) Valid() bool {
	switch t {
	case FriendRequest, FriendAccept,
		StudyGroupJoin, StudyGroupKick, StudyGroupAccept,
		ScheduleCreate, ScheduleReminder,
		FeedComment, QnAAnswer, QnAComment:
		return true
	}
	return false
}

// Notification is one server-pushed event. ID is unique and used for dedup.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	CreatedAt Timestamp        `json:"createdAt"`
	Data      map[string]any   `json:"data,omitempty"`
}

func (n Notification) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("notification without id")
	}
	if !n.Type.Valid() {
		return fmt.Errorf("unknown notification type %q", n.Type)
	}
	return nil
}

type FriendPayload struct {
	FriendID int64  `json:"friendId"`
	Nickname string `json:"nickname"`
}

type StudyGroupPayload struct {
	StudyGroupID int64  `json:"studyGroupId"`
	Title        string `json:"title"`
	Nickname     string `json:"nickname,omitempty"`
}

type SchedulePayload struct {
	ScheduleID   int64     `json:"scheduleId"`
	StudyGroupID int64     `json:"studyGroupId,omitempty"`
	Title        string    `json:"title"`
	StartTime    Timestamp `json:"startTime"`
}

type FeedCommentPayload struct {
	FeedID    int64  `json:"feedId"`
	CommentID int64  `json:"commentId,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
}

type QnAPayload struct {
	QuestionID int64  `json:"questionId"`
	AnswerID   int64  `json:"answerId,omitempty"`
	CommentID  int64  `json:"commentId,omitempty"`
	Title      string `json:"title,omitempty"`
}

// payloadKey is the id field every payload of a type must carry.
var payloadKey = map[NotificationType]string{
	FriendRequest:    "friendId",
	FriendAccept:     "friendId",
	StudyGroupJoin:   "studyGroupId",
	StudyGroupKick:   "studyGroupId",
	StudyGroupAccept: "studyGroupId",
	ScheduleCreate:   "scheduleId",
	ScheduleReminder: "scheduleId",
	FeedComment:      "feedId",
	QnAAnswer:        "questionId",
	QnAComment:       "questionId",
}

// Payload decodes Data into the struct matching Type.
func (n Notification) Payload() (any, error) {
	if n.Data == nil {
		return nil, fmt.Errorf("notification %s has no data", n.ID)
	}
	if key := payloadKey[n.Type]; key != "" {
		if _, err := decode.ReadInt64(n.Data, key); err != nil {
			return nil, fmt.Errorf("notification %s: %w", n.ID, err)
		}
	}
	switch n.Type {
	case FriendRequest, FriendAccept:
		return decode.DecodeMap[FriendPayload](n.Data)
	case StudyGroupJoin, StudyGroupKick, StudyGroupAccept:
		return decode.DecodeMap[StudyGroupPayload](n.Data)
	case ScheduleCreate, ScheduleReminder:
		p, err := decode.DecodeMap[schedulePayloadRaw](n.Data)
		if err != nil {
			return nil, err
		}
		return &SchedulePayload{
			ScheduleID:   p.ScheduleID,
			StudyGroupID: p.StudyGroupID,
			Title:        p.Title,
			StartTime:    At(p.StartTime),
		}, nil
	case FeedComment:
		return decode.DecodeMap[FeedCommentPayload](n.Data)
	case QnAAnswer, QnAComment:
		return decode.DecodeMap[QnAPayload](n.Data)
	}
	return nil, fmt.Errorf("unknown notification type %q", n.Type)
}

type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	NextCursor    string         `json:"nextCursor,omitempty"`
	HasNext       bool           `json:"hasNext"`
}
