package stub

import (
	"net/http"
	"sort"
	"strconv"
	"sync"

	"DeepGround/middleware"
	midsec "DeepGround/middleware/security"
	"DeepGround/module/chat/model"
	"DeepGround/tools/security"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is an in-memory stand-in for the DeepGround backend: notification
// stream, REST collaborators and a STOMP broker on /ws.
type Server struct {
	engine *gin.Engine
	mids   *middleware.MiddlewareManager
	auth   *midsec.Options
	log    *zap.Logger

	mu            sync.Mutex
	notifications []model.Notification // newest first
	rooms         map[model.ChatRoomKind][]model.ChatRoom
	messages      map[int64][]model.ChatMessage // ascending
	members       map[int64]map[int64]model.MemberInfo
	media         map[string]mediaObject
	streams       map[int]chan sse.Event
	nextStream    int
	rejectStreams int
	receipts      map[int64][]model.ReadRequest
	nextMessage   int64

	bmu   sync.Mutex
	bsubs map[*brokerConn]map[string]string // conn -> subscription id -> destination
}

type mediaObject struct {
	contentType string
	data        []byte
}

func New(secret []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:   gin.New(),
		mids:     middleware.NewManager(),
		auth:     midsec.DefaultOptions(secret),
		log:      log,
		rooms:    make(map[model.ChatRoomKind][]model.ChatRoom),
		messages: make(map[int64][]model.ChatMessage),
		members:  make(map[int64]map[int64]model.MemberInfo),
		media:    make(map[string]mediaObject),
		streams:  make(map[int]chan sse.Event),
		receipts: make(map[int64][]model.ReadRequest),
		bsubs:    make(map[*brokerConn]map[string]string),
	}
	s.engine.Use(gin.Recovery(), middleware.AccessLog(log), s.mids.Use())
	s.routes()
	return s
}

func (s *Server) routes() {
	auth := middleware.RouteOpt{IsAuth: true, Auth: s.auth}
	r := s.engine
	middleware.GET(r, "/notifications/subscribe", s.subscribe, auth)
	middleware.GET(r, "/notifications", s.listNotifications, auth)
	middleware.GET(r, "/notifications/unread-count", s.unreadCount, auth)
	middleware.PATCH(r, "/notifications/read-all", s.markAllRead, auth)
	middleware.PATCH(r, "/notifications/:id/read", s.markRead, auth)
	middleware.DELETE(r, "/notifications/:id", s.deleteNotification, auth)
	middleware.GET(r, "/chatrooms/friends", s.roomList(model.FriendRoom), auth)
	middleware.GET(r, "/chatrooms/study-groups", s.roomList(model.StudyGroupRoom), auth)
	middleware.GET(r, "/chatrooms/media/:mediaId", s.getMedia, auth)
	middleware.GET(r, "/chatrooms/:roomId/messages", s.history, auth)
	middleware.GET(r, "/chatrooms/:roomId/members/:memberId", s.getMember, auth)
	middleware.GET(r, "/ws", s.broker, middleware.RouteOpt{})
}

func (s *Server) Handler() http.Handler { return s.engine }

// Use adds a middleware in front of every route, e.g. to inject failures.
func (s *Server) Use(h gin.HandlerFunc) { s.mids.Add(h) }

// ClearMiddlewares removes what Use added.
func (s *Server) ClearMiddlewares() { s.mids.Clear() }

// Token mints a valid bearer token for memberID.
func (s *Server) Token(memberID int64) (string, error) {
	tok, _, _, err := security.Generate(s.auth.JWT, strconv.FormatInt(memberID, 10), nil)
	return tok, err
}

// ---- data setup ----

// AddNotification stores n as the newest notification.
func (s *Server) AddNotification(n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append([]model.Notification{n}, s.notifications...)
}

func (s *Server) AddRoom(r model.ChatRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.Kind] = append(s.rooms[r.Kind], r)
}

func (s *Server) AddMember(roomID int64, m model.MemberInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[roomID] == nil {
		s.members[roomID] = make(map[int64]model.MemberInfo)
	}
	m.Me = false
	s.members[roomID][m.MemberID] = m
}

// AddMessages stores history without broadcasting.
func (s *Server) AddMessages(roomID int64, msgs ...model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.messages[roomID], msgs...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	s.messages[roomID] = list
}

func (s *Server) AddMedia(id, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[id] = mediaObject{contentType: contentType, data: data}
}

// Receipts returns the read requests the broker received for a room.
func (s *Server) Receipts(roomID int64) []model.ReadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ReadRequest(nil), s.receipts[roomID]...)
}

func (s *Server) unread() int {
	n := 0
	for _, x := range s.notifications {
		if !x.Read {
			n++
		}
	}
	return n
}

func subjectID(c *gin.Context) int64 {
	id, _ := strconv.ParseInt(midsec.Subject(c), 10, 64)
	return id
}
