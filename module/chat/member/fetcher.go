package member

import (
	"context"
	"fmt"
	"sync"
	"time"

	"DeepGround/module/chat/model"
	"DeepGround/tools/errs"
	"DeepGround/tools/safe"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads one member profile of a room.
type FetchFunc func(ctx context.Context, roomID, memberID int64) (*model.MemberInfo, error)

// Fetcher resolves unknown members at most once concurrently per room and
// member. A member whose fetch failed is not requested again.
type Fetcher struct {
	fetch   FetchFunc
	log     *zap.Logger
	timeout time.Duration

	group singleflight.Group

	mu     sync.Mutex
	failed map[string]struct{}
}

func NewFetcher(fetch FetchFunc, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		fetch:   fetch,
		log:     log,
		timeout: 10 * time.Second,
		failed:  make(map[string]struct{}),
	}
}

func key(roomID, memberID int64) string {
	return fmt.Sprintf("%d:%d", roomID, memberID)
}

func (f *Fetcher) Failed(roomID, memberID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.failed[key(roomID, memberID)]
	return ok
}

// Fetch returns the member, joining a request already in flight.
func (f *Fetcher) Fetch(ctx context.Context, roomID, memberID int64) (*model.MemberInfo, error) {
	k := key(roomID, memberID)
	if f.Failed(roomID, memberID) {
		return nil, errs.ErrRequest.WrapMsg("member fetch previously failed", "room", roomID, "member", memberID)
	}
	v, err, _ := f.group.Do(k, func() (any, error) {
		info, err := f.fetch(ctx, roomID, memberID)
		if err != nil {
			f.mu.Lock()
			f.failed[k] = struct{}{}
			f.mu.Unlock()
			return nil, err
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.MemberInfo), nil
}

// Request fetches in the background and calls apply on success. Failures are
// logged and remembered.
func (f *Fetcher) Request(roomID, memberID int64, apply func(model.MemberInfo)) {
	if f.Failed(roomID, memberID) {
		return
	}
	safe.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		info, err := f.Fetch(ctx, roomID, memberID)
		if err != nil {
			f.log.Warn("member fetch failed", zap.Int64("room", roomID), zap.Int64("member", memberID), zap.Error(err))
			return
		}
		if apply != nil {
			apply(*info)
		}
	})
}
