package stub

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	midsec "DeepGround/middleware/security"
	"DeepGround/module/chat/model"
	"DeepGround/service/stomp"
	"DeepGround/tools/ids"
	"DeepGround/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const roomPrefix = "/chatrooms/"

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"v12.stomp"},
	CheckOrigin:  func(*http.Request) bool { return true },
}

type brokerConn struct {
	conn   *websocket.Conn
	wmu    sync.Mutex
	member int64
}

func (bc *brokerConn) write(f *stomp.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	bc.wmu.Lock()
	defer bc.wmu.Unlock()
	return bc.conn.WriteMessage(websocket.TextMessage, data)
}

// GET /ws  STOMP 1.2 over websocket; the bearer token travels in CONNECT.
func (s *Server) broker(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("stub broker upgrade failed", zap.Error(err))
		return
	}
	bc := &brokerConn{conn: conn}
	defer func() {
		s.bmu.Lock()
		delete(s.bsubs, bc)
		s.bmu.Unlock()
		_ = conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames, err := stomp.Decode(data)
		if err != nil {
			_ = bc.write(stomp.NewFrame(stomp.CmdError, stomp.HdrMessage, "malformed frame"))
			return
		}
		for _, f := range frames {
			if !s.handleFrame(bc, f) {
				return
			}
		}
	}
}

// handleFrame returns false when the session should end.
func (s *Server) handleFrame(bc *brokerConn, f *stomp.Frame) bool {
	switch f.Command {
	case stomp.CmdConnect, stomp.CmdStomp:
		claims, err := security.Verify(s.auth.JWT, midsec.BearerToken(f.Header.Get(stomp.HdrAuthorization)))
		if err != nil {
			_ = bc.write(stomp.NewFrame(stomp.CmdError, stomp.HdrMessage, "401 Unauthorized"))
			return false
		}
		sub, _ := claims.GetSubject()
		bc.member, _ = strconv.ParseInt(sub, 10, 64)
		s.bmu.Lock()
		s.bsubs[bc] = make(map[string]string)
		s.bmu.Unlock()
		return bc.write(stomp.NewFrame(stomp.CmdConnected,
			stomp.HdrVersion, "1.2", stomp.HdrHeartBeat, "0,0", "server", "deepground-stub")) == nil
	case stomp.CmdSubscribe:
		dest, id := f.Header.Get(stomp.HdrDestination), f.Header.Get(stomp.HdrID)
		s.bmu.Lock()
		subs, connected := s.bsubs[bc]
		if connected {
			subs[id] = dest
		}
		s.bmu.Unlock()
		if !connected {
			return false
		}
		// subscribing to /app/chatrooms/{id} answers with the room snapshot
		if roomID, rest, ok := roomOf(dest, "/app"); ok && rest == "" {
			return s.sendSnapshot(bc, id, dest, roomID)
		}
	case stomp.CmdUnsubscribe:
		s.bmu.Lock()
		delete(s.bsubs[bc], f.Header.Get(stomp.HdrID))
		s.bmu.Unlock()
	case stomp.CmdSend:
		s.onSend(bc, f)
	case stomp.CmdDisconnect:
		if r := f.Header.Get(stomp.HdrReceipt); r != "" {
			_ = bc.write(stomp.NewFrame(stomp.CmdReceipt, stomp.HdrReceiptID, r))
		}
		return false
	}
	return true
}

func (s *Server) onSend(bc *brokerConn, f *stomp.Frame) {
	roomID, rest, ok := roomOf(f.Header.Get(stomp.HdrDestination), "/app")
	if !ok {
		return
	}
	switch rest {
	case "/read":
		var req model.ReadRequest
		if err := json.Unmarshal(f.Body, &req); err != nil {
			s.log.Debug("stub read request unreadable", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.receipts[roomID] = append(s.receipts[roomID], req)
		if m, found := s.members[roomID][bc.member]; found && m.LastReadMessageTime.Before(req.LatestMessageTime) {
			m.LastReadMessageTime = req.LatestMessageTime
			s.members[roomID][bc.member] = m
		}
		s.mu.Unlock()
		s.broadcast(roomID, "/read", model.ReadReceipt{
			ChatRoomID:          roomID,
			MemberID:            bc.member,
			LastReadMessageTime: req.LatestMessageTime,
		})
	case "/send":
		var in struct {
			Message  string   `json:"message"`
			MediaIDs []string `json:"mediaIds"`
		}
		if err := json.Unmarshal(f.Body, &in); err != nil {
			s.log.Debug("stub chat message unreadable", zap.Error(err))
			return
		}
		s.Publish(roomID, model.ChatMessage{SenderID: bc.member, Message: in.Message, MediaIDs: in.MediaIDs})
	}
}

// Publish stores msg and broadcasts it to the room's message topic. A missing
// id or timestamp is filled in.
func (s *Server) Publish(roomID int64, msg model.ChatMessage) model.ChatMessage {
	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = ids.GenerateString()
	}
	if msg.CreatedAt.IsZero() {
		now := time.Now().UTC()
		if list := s.messages[roomID]; len(list) > 0 && !list[len(list)-1].CreatedAt.Before(model.At(now)) {
			now = list[len(list)-1].CreatedAt.Add(time.Millisecond)
		}
		msg.CreatedAt = model.At(now)
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	s.mu.Unlock()
	s.broadcast(roomID, "/message", msg)
	return msg
}

func (s *Server) broadcast(roomID int64, suffix string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	dest := "/topic" + roomPrefix + strconv.FormatInt(roomID, 10) + suffix
	type target struct {
		bc *brokerConn
		id string
	}
	var targets []target
	s.bmu.Lock()
	for bc, subs := range s.bsubs {
		for id, d := range subs {
			if d == dest {
				targets = append(targets, target{bc, id})
			}
		}
	}
	s.bmu.Unlock()
	for _, t := range targets {
		f := stomp.NewFrame(stomp.CmdMessage,
			stomp.HdrSubscription, t.id,
			stomp.HdrDestination, dest,
			stomp.HdrMessageID, uuid.NewString(),
			stomp.HdrContentType, "application/json")
		f.Body = body
		if err := t.bc.write(f); err != nil {
			s.log.Debug("stub broker write failed", zap.Error(err))
		}
	}
}

func (s *Server) sendSnapshot(bc *brokerConn, subID, dest string, roomID int64) bool {
	s.mu.Lock()
	snap := model.RoomSnapshot{MessagePage: s.pageBefore(roomID, "", snapshotSize)}
	for _, m := range s.members[roomID] {
		m.Me = m.MemberID == bc.member
		snap.MemberInfos = append(snap.MemberInfos, m)
	}
	s.mu.Unlock()
	body, err := json.Marshal(snap)
	if err != nil {
		return false
	}
	f := stomp.NewFrame(stomp.CmdMessage,
		stomp.HdrSubscription, subID,
		stomp.HdrDestination, dest,
		stomp.HdrMessageID, uuid.NewString(),
		stomp.HdrContentType, "application/json")
	f.Body = body
	return bc.write(f) == nil
}

// BrokerSubscribers counts subscriptions on dest across sessions.
func (s *Server) BrokerSubscribers(dest string) int {
	s.bmu.Lock()
	defer s.bmu.Unlock()
	n := 0
	for _, subs := range s.bsubs {
		for _, d := range subs {
			if d == dest {
				n++
			}
		}
	}
	return n
}

// KickBroker closes every broker session.
func (s *Server) KickBroker() {
	s.bmu.Lock()
	defer s.bmu.Unlock()
	for bc := range s.bsubs {
		_ = bc.conn.Close()
	}
}

// roomOf splits "<prefix>/chatrooms/<id><rest>".
func roomOf(dest, prefix string) (int64, string, bool) {
	if !strings.HasPrefix(dest, prefix+roomPrefix) {
		return 0, "", false
	}
	tail := dest[len(prefix+roomPrefix):]
	idPart, rest := tail, ""
	if i := strings.IndexByte(tail, '/'); i >= 0 {
		idPart, rest = tail[:i], tail[i:]
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, rest, true
}
