package stub

import (
	"net/http"
	"strconv"

	"DeepGround/module/chat/model"

	"github.com/gin-gonic/gin"
)

const (
	defaultLimit    = 20
	defaultPageSize = 20
	snapshotSize    = 30
)

func ok(c *gin.Context, result any) {
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "message": "OK", "result": result})
}

func fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"status": code, "message": msg})
}

func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func int64Param(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return v, true
}

// GET /notifications?cursor=&limit=  newest first, cursor is the last id seen
func (s *Server) listNotifications(c *gin.Context) {
	limit := intQuery(c, "limit", defaultLimit)
	cursor := c.Query("cursor")

	s.mu.Lock()
	start := 0
	if cursor != "" {
		start = len(s.notifications)
		for i, n := range s.notifications {
			if n.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(s.notifications))
	page := model.NotificationPage{Notifications: append([]model.Notification{}, s.notifications[start:end]...)}
	if end < len(s.notifications) {
		page.HasNext = true
		page.NextCursor = s.notifications[end-1].ID
	}
	s.mu.Unlock()
	ok(c, page)
}

func (s *Server) unreadCount(c *gin.Context) {
	s.mu.Lock()
	n := s.unread()
	s.mu.Unlock()
	ok(c, gin.H{"unreadCount": n})
}

func (s *Server) markRead(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	found := false
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			found = true
		}
	}
	s.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "notification not found")
		return
	}
	ok(c, gin.H{"id": id})
}

func (s *Server) markAllRead(c *gin.Context) {
	s.mu.Lock()
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	s.mu.Unlock()
	ok(c, gin.H{"unreadCount": 0})
}

func (s *Server) deleteNotification(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	kept := s.notifications[:0]
	for _, n := range s.notifications {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	removed := len(kept) != len(s.notifications)
	s.notifications = kept
	s.mu.Unlock()
	if !removed {
		fail(c, http.StatusNotFound, "notification not found")
		return
	}
	ok(c, gin.H{"id": id})
}

// GET /chatrooms/{friends|study-groups}?page=&size=  0-based pages
func (s *Server) roomList(kind model.ChatRoomKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
		if err != nil || page < 0 {
			fail(c, http.StatusBadRequest, "invalid page")
			return
		}
		size := intQuery(c, "size", defaultPageSize)

		s.mu.Lock()
		all := s.rooms[kind]
		start := min(page*size, len(all))
		end := min(start+size, len(all))
		out := model.ChatRoomPage{
			ChatRooms: append([]model.ChatRoom{}, all[start:end]...),
			HasNext:   end < len(all),
		}
		s.mu.Unlock()
		ok(c, out)
	}
}

// GET /chatrooms/:roomId/messages?cursor=&limit=  strictly older than cursor, ascending
func (s *Server) history(c *gin.Context) {
	roomID, valid := int64Param(c, "roomId")
	if !valid {
		return
	}
	limit := intQuery(c, "limit", defaultLimit)
	s.mu.Lock()
	page := s.pageBefore(roomID, c.Query("cursor"), limit)
	s.mu.Unlock()
	ok(c, page)
}

// pageBefore returns up to limit messages older than the message with id
// cursor, or the newest ones when cursor is empty. Caller holds s.mu.
func (s *Server) pageBefore(roomID int64, cursor string, limit int) model.MessagePage {
	list := s.messages[roomID]
	end := len(list)
	if cursor != "" {
		end = 0
		for i, m := range list {
			if m.ID == cursor {
				end = i
				break
			}
		}
	}
	start := max(end-limit, 0)
	page := model.MessagePage{Messages: append([]model.ChatMessage{}, list[start:end]...)}
	if start > 0 {
		next := list[start].ID
		page.NextCursor = &next
		page.HasNext = true
	}
	return page
}

func (s *Server) getMember(c *gin.Context) {
	roomID, valid := int64Param(c, "roomId")
	if !valid {
		return
	}
	memberID, valid := int64Param(c, "memberId")
	if !valid {
		return
	}
	s.mu.Lock()
	m, found := s.members[roomID][memberID]
	s.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "member not found")
		return
	}
	m.Me = memberID == subjectID(c)
	ok(c, m)
}

func (s *Server) getMedia(c *gin.Context) {
	s.mu.Lock()
	obj, found := s.media[c.Param("mediaId")]
	s.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "media not found")
		return
	}
	c.Data(http.StatusOK, obj.contentType, obj.data)
}
