package model

import (
	"bytes"
	"encoding/json"
	"time"

	"DeepGround/tools/decode"
)

// Timestamp is the ordering key of messages and notifications. It accepts the
// server's zone-less LocalDateTime strings as well as RFC3339 and epoch millis.
type Timestamp struct {
	time.Time
}

func At(t time.Time) Timestamp { return Timestamp{Time: t} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] != '"' {
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return err
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := decode.ParseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// Before compares with zero values sorting first.
func (t Timestamp) Before(o Timestamp) bool { return t.Time.Before(o.Time) }
