package stub

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamBuffer = 64

// GET /notifications/subscribe
func (s *Server) subscribe(c *gin.Context) {
	s.mu.Lock()
	if s.rejectStreams > 0 {
		s.rejectStreams--
		s.mu.Unlock()
		fail(c, http.StatusUnauthorized, "token rejected")
		return
	}
	ch := make(chan sse.Event, streamBuffer)
	id := s.nextStream
	s.nextStream++
	s.streams[id] = ch
	unread := s.unread()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Render(-1, sse.Event{Event: "connected", Data: `{"memberId":` + strconv.FormatInt(subjectID(c), 10) + `}`})
	c.Render(-1, sse.Event{Event: "unreadCount", Data: strconv.Itoa(unread)})
	c.Writer.Flush()
	s.log.Debug("stub stream opened", zap.Int("stream", id))

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-ch:
			if !open {
				return false
			}
			c.Render(-1, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	s.log.Debug("stub stream closed", zap.Int("stream", id))
}

// Push sends one event to every open stream. payload is sent as is when it
// is a string or []byte and as JSON otherwise.
func (s *Server) Push(event string, payload any) error {
	var data string
	switch p := payload.(type) {
	case string:
		data = p
	case []byte:
		data = string(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		data = string(b)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.streams {
		select {
		case ch <- sse.Event{Event: event, Data: data}:
		default:
			s.log.Warn("stub stream full, event dropped", zap.Int("stream", id), zap.String("event", event))
		}
	}
	return nil
}

// Subscribers is the number of open notification streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// RejectStreams answers the next n stream requests with 401 even when the
// token verifies.
func (s *Server) RejectStreams(n int) {
	s.mu.Lock()
	s.rejectStreams = n
	s.mu.Unlock()
}

// DropStreams ends every open stream from the server side.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.streams {
		close(ch)
		delete(s.streams, id)
	}
}
