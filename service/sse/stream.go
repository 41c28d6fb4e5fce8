package sse

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"DeepGround/tools/errs"
)

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Event string
	Data  []byte
	Retry time.Duration
}

// Dialer opens event streams over plain HTTP.
type Dialer struct {
	Client *http.Client
}

func NewDialer(client *http.Client) *Dialer {
	if client == nil {
		// no overall timeout, the stream is long-lived
		client = &http.Client{}
	}
	return &Dialer{Client: client}
}

// Dial issues the GET and checks the response. 401/403 map to
// errs.ErrAuthRejected, everything else that fails maps to errs.ErrTransport.
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.As(errs.ErrTransport, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, errs.As(errs.ErrTransport, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, errs.ErrAuthRejected.WrapMsg("event stream", "status", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, errs.ErrTransport.WrapMsg("event stream", "status", resp.StatusCode, "body", strings.TrimSpace(string(b)))
	}
	return NewStream(resp.Body), nil
}

// MaxEventSize caps one line and the joined data of one event.
const MaxEventSize = 1 << 20

// Stream reads events from a text/event-stream body.
type Stream struct {
	body    io.ReadCloser
	r       *bufio.Reader
	lastID  string
	maxSize int
	once    sync.Once
}

func NewStream(body io.ReadCloser) *Stream {
	return &Stream{body: body, r: bufio.NewReader(body), maxSize: MaxEventSize}
}

// LastID is the most recent id field seen, for Last-Event-ID on reconnect.
func (s *Stream) LastID() string { return s.lastID }

// Next blocks until a complete event arrives. Comment lines and events
// without data are skipped. Any read failure, including EOF, is a transport
// error; a line or event over MaxEventSize is a protocol error.
func (s *Stream) Next() (*Event, error) {
	var (
		data    bytes.Buffer
		hasData bool
		ev      = &Event{}
	)
	for {
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}

		if line == "" {
			if !hasData {
				ev = &Event{}
				continue
			}
			ev.Data = data.Bytes()
			ev.ID = s.lastID
			if ev.Event == "" {
				ev.Event = "message"
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], strings.TrimPrefix(line[i+1:], " ")
		}
		switch field {
		case "event":
			ev.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
			if data.Len() > s.maxSize {
				return nil, errs.ErrProtocol.WrapMsg("event too large", "limit", s.maxSize)
			}
		case "id":
			if !strings.ContainsRune(value, 0) {
				s.lastID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}

// readLine returns one line without its terminator, reading at most maxSize
// bytes of it.
func (s *Stream) readLine() (string, error) {
	var buf []byte
	for {
		chunk, err := s.r.ReadSlice('\n')
		if len(buf)+len(chunk) > s.maxSize+2 {
			return "", errs.ErrProtocol.WrapMsg("line too long", "limit", s.maxSize)
		}
		buf = append(buf, chunk...)
		switch err {
		case nil:
			return strings.TrimRight(string(buf), "\r\n"), nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			return "", errs.ErrTransport.WrapMsg("event stream closed")
		default:
			return "", errs.As(errs.ErrTransport, err)
		}
	}
}

// Close releases the body. Safe to call from another goroutine to unblock Next.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}
