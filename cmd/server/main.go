package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/christopherjohns/realchat/internal/chat"
	"github.com/christopherjohns/realchat/internal/config"
	"github.com/christopherjohns/realchat/internal/conversation"
	"github.com/christopherjohns/realchat/internal/presence"
	"github.com/christopherjohns/realchat/internal/ratelimit"
	"github.com/christopherjohns/realchat/internal/server"
	"github.com/christopherjohns/realchat/internal/store"
	"github.com/christopherjohns/realchat/internal/store/sqlite"
	"github.com/christopherjohns/realchat/internal/ws"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "realchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	configPath := flag.String("config", os.Getenv("REALCHAT_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	conns := ws.NewConnManager(
		ws.WithMaxConns(cfg.WS.MaxConns),
		ws.WithIdleTimeout(cfg.WS.IdleTimeout),
		ws.WithConnLogger(log),
	)
	groups := ws.NewGroups(conns, log)
	hub := chat.NewHub(presence.NewRegistry(), st, groups, log)

	handlerOpts := []ws.HandlerOption{
		ws.WithLogger(log),
		ws.WithOriginPatterns(originHosts(cfg.AllowedOrigins)...),
		ws.WithInsecureSkipVerify(cfg.WS.InsecureSkipVerify),
	}
	if cfg.WS.JoinRateLimit > 0 {
		limiter := ratelimit.New(cfg.WS.JoinRateLimit, cfg.WS.JoinRateWindow)
		go limiter.SweepEvery(ctx, cfg.WS.JoinRateWindow)
		handlerOpts = append(handlerOpts, ws.WithLimiter(limiter))
	}

	srv := server.New(cfg.ListenAddr, server.Deps{
		Presence:      hub,
		Conversations: conversation.NewService(st, conversation.WithLimit(cfg.ConversationLimit)),
		Conns:         conns,
		ChatHandler:   ws.NewHandler(hub, groups, handlerOpts...),
	},
		server.WithAllowedOrigins(cfg.AllowedOrigins...),
		server.WithShutdownTimeout(cfg.ShutdownTimeout),
		server.WithLogger(log),
	)

	log.Info("starting realchat", "addr", cfg.ListenAddr, "store", cfg.Store.Driver)
	return srv.Run(ctx)
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("opened sqlite store", "path", cfg.SQLitePath)
		return st, nil
	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Info("connected to redis", "addr", cfg.RedisAddr)
		return store.NewRedisStore(rdb), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

// originHosts reduces allowed origins to the host patterns the WebSocket
// origin check matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
