package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"DeepGround/global/config"
	"DeepGround/logger"
	"DeepGround/module/chat/model"
	"DeepGround/service/stub"
	"DeepGround/tools/ids"
	"DeepGround/tools/safe"

	"go.uber.org/zap"
)

const (
	stubHeartbeatEvery = 20 * time.Second
	stubChatterEvery   = 45 * time.Second
)

// startStub serves the fake backend and points cfg at it.
func startStub(cfg *config.AppConfig, room int64) (func(), error) {
	log := logger.Named("stub")
	s := stub.New([]byte(cfg.Stub.Secret), log)
	ln, err := net.Listen("tcp", cfg.Stub.Addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	safe.SafeGo(func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("stub server stopped", zap.Error(err))
		}
	})

	me := cfg.Stub.MemberID
	tok, err := s.Token(me)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	addr := ln.Addr().String()
	cfg.API.BaseURL = "http://" + addr
	cfg.Chat.Transport = config.TransportStomp
	cfg.Chat.WebsocketURL = "ws://" + addr + "/ws"
	cfg.Auth.AccessToken = tok
	log.Info("stub backend listening", zap.String("addr", addr), zap.Int64("member", me))

	if room == 0 {
		room = 1
	}
	peer := me + 1
	seedStub(s, cfg.Rooms, room, me, peer)

	done := make(chan struct{})
	safe.SafeGo(func() { chatter(s, room, peer, done) })
	return func() {
		close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func seedStub(s *stub.Server, presets []config.RoomPreset, room, me, peer int64) {
	if len(presets) == 0 {
		presets = []config.RoomPreset{{ID: room, Kind: model.FriendRoom, Name: "peer"}}
	}
	now := time.Now().UTC()
	for _, p := range presets {
		kind := p.Kind
		if kind == "" {
			kind = model.FriendRoom
		}
		r := model.ChatRoom{ChatRoomID: p.ID, Kind: kind, Name: p.Name}
		if kind == model.FriendRoom {
			r.PeerID = peer
			r.Status = model.Offline
		} else {
			r.MemberCount = 2
		}
		s.AddRoom(r)
		s.AddMember(p.ID, model.MemberInfo{MemberID: me, Nickname: "me"})
		s.AddMember(p.ID, model.MemberInfo{MemberID: peer, Nickname: "peer"})
		for i := 0; i < 40; i++ {
			sender := peer
			if i%3 == 0 {
				sender = me
			}
			s.AddMessages(p.ID, model.ChatMessage{
				ID:        ids.GenerateString(),
				SenderID:  sender,
				Message:   fmt.Sprintf("history #%d", i),
				CreatedAt: model.At(now.Add(time.Duration(i-40) * time.Minute)),
			})
		}
	}
	s.AddNotification(model.Notification{
		ID:        ids.GenerateString(),
		Type:      model.FriendAccept,
		CreatedAt: model.At(now.Add(-time.Hour)),
		Data:      map[string]any{"friendId": peer, "nickname": "peer"},
	})
}

// chatter keeps the stream and the room alive with heartbeats, presence flips
// and peer messages until done is closed.
func chatter(s *stub.Server, room, peer int64, done <-chan struct{}) {
	hb := time.NewTicker(stubHeartbeatEvery)
	defer hb.Stop()
	talk := time.NewTicker(stubChatterEvery)
	defer talk.Stop()
	online := false
	n := 0
	for {
		select {
		case <-done:
			return
		case <-hb.C:
			_ = s.Push("heartbeat", "{}")
		case <-talk.C:
			online = !online
			status := model.Offline
			if online {
				status = model.Online
			}
			_ = s.Push("presence", model.PresencePayload{MemberID: peer, Status: status, At: model.At(time.Now())})
			n++
			s.Publish(room, model.ChatMessage{SenderID: peer, Message: fmt.Sprintf("ping %d", n)})
			_ = s.Push("unreadCount", model.UnreadCountPayload{Scope: model.ScopeChat, ChatRoomID: room, UnreadCount: n})
		}
	}
}
