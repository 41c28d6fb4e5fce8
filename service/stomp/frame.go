package stomp

import (
	"bytes"
	"io"
	"strconv"
	"time"

	"DeepGround/tools/errs"

	"github.com/go-stomp/stomp/v3/frame"
)

// Commands used by the client and by the test broker.
const (
	CmdConnect     = frame.CONNECT
	CmdStomp       = frame.STOMP
	CmdConnected   = frame.CONNECTED
	CmdSend        = frame.SEND
	CmdSubscribe   = frame.SUBSCRIBE
	CmdUnsubscribe = frame.UNSUBSCRIBE
	CmdDisconnect  = frame.DISCONNECT
	CmdMessage     = frame.MESSAGE
	CmdReceipt     = frame.RECEIPT
	CmdError       = frame.ERROR
)

// Header names.
const (
	HdrAcceptVersion = frame.AcceptVersion
	HdrVersion       = frame.Version
	HdrHost          = frame.Host
	HdrHeartBeat     = frame.HeartBeat
	HdrDestination   = frame.Destination
	HdrID            = frame.Id
	HdrSubscription  = frame.Subscription
	HdrMessageID     = frame.MessageId
	HdrAck           = frame.Ack
	HdrReceipt       = frame.Receipt
	HdrReceiptID     = frame.ReceiptId
	HdrContentType   = frame.ContentType
	HdrContentLength = frame.ContentLength
	HdrMessage       = frame.Message
	HdrServer        = frame.Server
	HdrAuthorization = "Authorization"
)

type Frame = frame.Frame

func NewFrame(cmd string, kv ...string) *Frame { return frame.New(cmd, kv...) }

// Encode renders one frame as a WebSocket payload. A non-empty body always
// carries content-length.
func Encode(f *Frame) ([]byte, error) {
	if len(f.Body) > 0 {
		f.Header.Set(HdrContentLength, strconv.Itoa(len(f.Body)))
	}
	var b bytes.Buffer
	if err := frame.NewWriter(&b).Write(f); err != nil {
		return nil, errs.As(errs.ErrProtocol, err)
	}
	return b.Bytes(), nil
}

// Decode parses every frame in one transport message. Heart-beat EOLs
// between frames are skipped; a message with only EOLs yields no frames.
func Decode(data []byte) ([]*Frame, error) {
	// the reader treats a missing NUL at the end of input as a clean EOF
	if tail := bytes.TrimRight(data, "\r\n"); len(tail) > 0 && tail[len(tail)-1] != 0 {
		return nil, errs.ErrProtocol.WrapMsg("frame not terminated")
	}
	r := frame.NewReader(bytes.NewReader(data))
	var out []*Frame
	for {
		f, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, errs.As(errs.ErrProtocol, err)
		}
		if f != nil {
			out = append(out, f)
		}
	}
}

// heartBeat reads a "cx,cy" header value. An absent header means no
// heart-beating.
func heartBeat(v string) (cx, cy time.Duration, err error) {
	if v == "" {
		return 0, 0, nil
	}
	cx, cy, err = frame.ParseHeartBeat(v)
	if err != nil {
		return 0, 0, errs.As(errs.ErrProtocol, err)
	}
	return cx, cy, nil
}
