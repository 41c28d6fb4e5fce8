package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"DeepGround/module/chat/model"
	"DeepGround/tools/errs"
	"DeepGround/tools/security"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Envelope wraps every JSON response of the API.
type Envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type Client struct {
	base   string
	r      *resty.Client
	tokens security.TokenSource
	log    *zap.Logger
}

func New(baseURL string, timeout time.Duration, tokens security.TokenSource, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		tokens: tokens,
		log:    log,
	}
	c.r = resty.New().
		SetBaseURL(c.base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(c.authorize).
		OnAfterResponse(c.check)
	return c
}

func (c *Client) BaseURL() string { return c.base }

// authorize attaches the current bearer token.
func (c *Client) authorize(_ *resty.Client, req *resty.Request) error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token(req.Context())
	if err != nil {
		return err
	}
	if tok != "" {
		req.SetAuthToken(strings.TrimPrefix(tok, "Bearer "))
	}
	return nil
}

// check maps non-2xx answers onto the error taxonomy.
func (c *Client) check(_ *resty.Client, resp *resty.Response) error {
	req := resp.Request
	c.log.Debug("api call", zap.String("method", req.Method), zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode()), zap.Duration("took", resp.Time()))
	if resp.StatusCode() == http.StatusUnauthorized {
		return errs.ErrAuthRejected.WrapMsg("api", "path", req.URL)
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := strings.TrimSpace(string(resp.Body()))
	if env, ok := resp.Error().(*Envelope); ok && env.Message != "" {
		msg = env.Message
	}
	return errs.ErrRequest.WrapMsg(msg, "method", req.Method, "path", req.URL, "status", resp.StatusCode())
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.r.R().SetContext(ctx).SetError(&Envelope{})
}

// call runs req and surfaces hook errors unchanged. Transport failures map
// to errs.ErrRequest.
func call(req *resty.Request, method, path string) (*resty.Response, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		if errs.Code(err) != 0 {
			return nil, err
		}
		return nil, errs.As(errs.ErrRequest, err)
	}
	return resp, nil
}

// do performs a JSON call and decodes the envelope result into out.
func (c *Client) do(ctx context.Context, method, path string, q map[string]string, out any) error {
	req := c.request(ctx).SetQueryParams(q)
	if out != nil {
		req.SetResult(&Envelope{})
	}
	resp, err := call(req, method, path)
	if err != nil {
		c.log.Debug("api call failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}
	if out == nil {
		return nil
	}
	env, ok := resp.Result().(*Envelope)
	if !ok || env == nil {
		return errs.ErrProtocol.WrapMsg("no envelope", "path", path)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		// resty skips decoding when the content type is not JSON
		if err := json.Unmarshal(resp.Body(), env); err != nil {
			return errs.As(errs.ErrProtocol, err)
		}
		if len(env.Result) == 0 || string(env.Result) == "null" {
			return errs.ErrProtocol.WrapMsg("empty result", "path", path)
		}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return errs.As(errs.ErrProtocol, err)
	}
	return nil
}

func cursorQuery(cursor string, limit int) map[string]string {
	q := map[string]string{}
	if cursor != "" {
		q["cursor"] = cursor
	}
	if limit > 0 {
		q["limit"] = strconv.Itoa(limit)
	}
	return q
}

func pageQuery(page, size int) map[string]string {
	q := map[string]string{"page": strconv.Itoa(page)}
	if size > 0 {
		q["size"] = strconv.Itoa(size)
	}
	return q
}

func (c *Client) Notifications(ctx context.Context, cursor string, limit int) (*model.NotificationPage, error) {
	var out model.NotificationPage
	if err := c.do(ctx, resty.MethodGet, "/notifications", cursorQuery(cursor, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := c.do(ctx, resty.MethodGet, "/notifications/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.withID(ctx, resty.MethodPatch, "/notifications/{id}/read", id)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, resty.MethodPatch, "/notifications/read-all", nil, nil)
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.withID(ctx, resty.MethodDelete, "/notifications/{id}", id)
}

func (c *Client) withID(ctx context.Context, method, path, id string) error {
	_, err := call(c.request(ctx).SetPathParam("id", id), method, path)
	if err != nil {
		c.log.Debug("api call failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
	}
	return err
}

func (c *Client) FriendRooms(ctx context.Context, page, size int) (*model.ChatRoomPage, error) {
	return c.rooms(ctx, "/chatrooms/friends", model.FriendRoom, page, size)
}

func (c *Client) StudyGroupRooms(ctx context.Context, page, size int) (*model.ChatRoomPage, error) {
	return c.rooms(ctx, "/chatrooms/study-groups", model.StudyGroupRoom, page, size)
}

func (c *Client) rooms(ctx context.Context, path string, kind model.ChatRoomKind, page, size int) (*model.ChatRoomPage, error) {
	var out model.ChatRoomPage
	if err := c.do(ctx, resty.MethodGet, path, pageQuery(page, size), &out); err != nil {
		return nil, err
	}
	for i := range out.ChatRooms {
		if out.ChatRooms[i].Kind == "" {
			out.ChatRooms[i].Kind = kind
		}
	}
	return &out, nil
}

// Messages returns the page of history strictly older than cursor.
func (c *Client) Messages(ctx context.Context, roomID int64, cursor string, limit int) (*model.MessagePage, error) {
	var out model.MessagePage
	path := "/chatrooms/" + strconv.FormatInt(roomID, 10) + "/messages"
	if err := c.do(ctx, resty.MethodGet, path, cursorQuery(cursor, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Member(ctx context.Context, roomID, memberID int64) (*model.MemberInfo, error) {
	var out model.MemberInfo
	path := "/chatrooms/" + strconv.FormatInt(roomID, 10) + "/members/" + strconv.FormatInt(memberID, 10)
	if err := c.do(ctx, resty.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.MemberID == 0 {
		out.MemberID = memberID
	}
	return &out, nil
}

// Media downloads a media object by id. The body is returned raw.
func (c *Client) Media(ctx context.Context, mediaID string) ([]byte, string, error) {
	resp, err := call(c.request(ctx).SetPathParam("id", mediaID), resty.MethodGet, "/chatrooms/media/{id}")
	if err != nil {
		return nil, "", err
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}
