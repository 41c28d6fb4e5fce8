package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"DeepGround/global/config"
	"DeepGround/logger"
	"DeepGround/service/chat"
	"DeepGround/service/eventbus"
	"DeepGround/service/kafka"
	"DeepGround/service/notify"
	"DeepGround/service/rest"
	"DeepGround/service/sse"
	"DeepGround/service/storage"
	"DeepGround/service/storage/redis"
	"DeepGround/tools/security"

	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (defaults to $DG_CONFIG_PATH)")
	room := flag.Int64("room", 0, "open the chat UI and select this room")
	useStub := flag.Bool("stub", false, "run against an in-process fake backend")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level, cfg.Log.JSON)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *useStub {
		shutdown, err := startStub(&cfg, *room)
		if err != nil {
			logger.Error("stub backend failed", zap.Error(err))
			os.Exit(1)
		}
		defer shutdown()
	}
	config.Global = cfg

	if err := run(ctx, cfg, *room); err != nil {
		logger.Error("exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig, room int64) error {
	bus := eventbus.Default()
	creds := security.NewStaticProvider(cfg.Auth.AccessToken, nil)
	api := rest.New(cfg.API.BaseURL, cfg.API.Timeout, creds, logger.Named("rest"))

	if cfg.Redis.Enabled {
		if err := redis.InitRedis(ctx, cfg.RedisConfig()); err != nil {
			logger.Warn("redis mirror disabled", zap.Error(err))
		} else {
			mirror := storage.NewPresenceMirror(redis.GetRedis(), cfg.Redis.PresenceTTL, logger.Named("presence"))
			detach := mirror.Attach(bus)
			defer func() {
				detach()
				_ = redis.CloseRedis()
			}()
		}
	}
	if cfg.Kafka.Enabled {
		sink, err := kafka.NewSink(cfg.KafkaConfig())
		if err != nil {
			logger.Warn("kafka sink disabled", zap.Error(err))
		} else {
			detach := sink.Attach(bus)
			defer func() {
				detach()
				_ = sink.Close()
			}()
		}
	}

	ns := notify.Init(cfg.NotifyConfig(), notify.Deps{
		Credentials: creds,
		API:         api,
		Dial:        notify.SSEDialer(sse.NewDialer(nil)),
		Bus:         bus,
		Log:         logger.Named("notify"),
	})
	dispose := ns.Register(logEvent(logger.Named("events")))
	defer dispose()
	if n, err := ns.RefreshUnreadCount(ctx); err == nil {
		logger.Info("notification badge", zap.Int("unread", n))
	}

	dial := chat.StompDialer(cfg.StompConfig(), logger.Named("stomp"))
	if cfg.Chat.Transport == config.TransportNats {
		dial = chat.NatsDialer(cfg.Chat.Nats, logger.Named("nats"))
	}
	cs := chat.New(cfg.ChatConfig(), chat.Deps{
		Credentials: creds,
		API:         api,
		Dial:        dial,
		Bus:         bus,
		Log:         logger.Named("chat"),
	})
	defer cs.Close()
	defer eventbus.On(bus, func(ev eventbus.ChatMessageEvent) {
		logger.Info("chat message",
			zap.Int64("room", ev.ChatRoomID),
			zap.Int64("sender", ev.Message.SenderID),
			zap.Bool("fromMe", ev.FromMe),
			zap.String("text", ev.Message.Message))
	})()

	if room != 0 {
		if err := cs.SetUIOpen(ctx, true); err != nil {
			logger.Warn("chat not connected", zap.Error(err))
		}
		if _, err := cs.LoadFriendRooms(ctx, 0); err != nil {
			logger.Warn("friend rooms", zap.Error(err))
		}
		if _, err := cs.LoadStudyGroupRooms(ctx, 0); err != nil {
			logger.Warn("study group rooms", zap.Error(err))
		}
		if err := cs.SelectRoom(ctx, room); err != nil {
			logger.Warn("select room", zap.Int64("room", room), zap.Error(err))
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func logEvent(log *zap.Logger) notify.Listener {
	return func(ev eventbus.Event) {
		switch e := ev.(type) {
		case eventbus.NotificationEvent:
			log.Info("notification", zap.String("id", e.Notification.ID), zap.String("type", string(e.Notification.Type)))
		case eventbus.UnreadCountEvent:
			log.Info("unread count", zap.String("scope", string(e.Scope)), zap.Int64("room", e.ChatRoomID), zap.Int("count", e.Count))
		case eventbus.PresenceEvent:
			log.Info("presence", zap.Int64("member", e.MemberID), zap.String("status", string(e.Status)))
		case eventbus.ConnectionEvent:
			log.Info("connection", zap.String("channel", e.Channel), zap.String("state", string(e.State)),
				zap.String("quality", string(e.Quality)), zap.Int("attempt", e.Attempt), zap.String("error", e.Err))
		case eventbus.HeartbeatEvent:
			log.Debug("heartbeat")
		}
	}
}
