package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SlpAus/agm-voting-backend/internal/ballot"
	"github.com/SlpAus/agm-voting-backend/internal/handoff"
	"github.com/SlpAus/agm-voting-backend/internal/identity"
	"github.com/SlpAus/agm-voting-backend/internal/motion"
	"github.com/SlpAus/agm-voting-backend/internal/platform/config"
	"github.com/SlpAus/agm-voting-backend/internal/platform/database"
	"github.com/SlpAus/agm-voting-backend/internal/platform/kv"
	"github.com/SlpAus/agm-voting-backend/internal/presence"
	"github.com/SlpAus/agm-voting-backend/internal/realtime"
	"github.com/SlpAus/agm-voting-backend/internal/staff"
	"github.com/SlpAus/agm-voting-backend/internal/user"
)

// App 持有一个进程内的全部服务
type App struct {
	Engine   *gin.Engine
	Store    kv.Store
	Hub      *realtime.Hub
	Presence *presence.Tracker
	Identity *identity.Service
	Ballot   *ballot.Service
	Motions  *motion.Service
	Staff    *staff.Authenticator
}

// NewApp 按配置组装服务并注册路由。rdb 为nil时共享存储只使用进程内存。
func NewApp(cfg *config.Config, db *gorm.DB, rdb *redis.Client, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. 共享存储：Redis健康时走Redis，否则退回进程内存
	var primary kv.Store
	if rdb != nil {
		primary = kv.NewRedis(rdb)
	}
	store := kv.NewFallback(primary, kv.NewMemory(), database.IsRedisHealthy, logger.With("component", "kv"))

	// 2. 领域服务
	identitySvc := identity.NewService(db, logger.With("component", "cis"), identity.Options{
		BallotBaseURL: cfg.Server.BallotBaseURL,
		SessionTTL:    cfg.Protocol.SessionTTL,
		CodeTTL:       cfg.Protocol.CodeTTL,
	})

	var channel ballot.Handoff
	switch cfg.Handoff.Mode {
	case config.HandoffRemote:
		channel = handoff.NewClient(cfg.Handoff.CISBaseURL, []byte(cfg.Handoff.SharedSecret), cfg.Handoff.Timeout)
	default:
		channel = handoff.NewLocal(identitySvc)
	}
	ballotSvc := ballot.NewService(db, channel, logger.With("component", "bbs"))

	hub := realtime.NewHub(logger.With("component", "realtime"))
	tracker := presence.NewTracker(store, cfg.Presence.Timeout)
	motionSvc := motion.NewService(db, store, hub, logger.With("component", "motions"))
	auth := staff.NewAuthenticator(cfg.Staff)

	// 3. HTTP层
	secure := cfg.Server.Mode == gin.ReleaseMode
	cookieSecret := []byte(cfg.Protocol.CookieSecret)
	resolver := user.NewResolver(cookieSecret, secure, logger)
	staffHandler := staff.NewHandler(auth, logger)

	engine := newEngine(cfg.Server)
	SetupRoutes(engine, Handlers{
		Identity: identity.NewHandler(identitySvc, logger),
		Ballot: ballot.NewHandler(ballotSvc, ballot.CookieOptions{
			Secret: cookieSecret,
			MaxAge: cfg.Protocol.SessionTTL,
			Secure: secure,
		}, logger),
		Motion: motion.NewHandler(motionSvc, tracker, resolver.Identify, logger),
		Staff:  staffHandler,
		Realtime: realtime.NewEndpoints(hub, db, tracker, realtime.EndpointOptions{
			Identify:       resolver.Identify,
			Authorize:      staffHandler.Authorized,
			AllowedOrigins: cfg.Server.Cors.AllowedOrigins,
		}, logger),
		Resolver:  resolver,
		Signature: []byte(cfg.Handoff.SharedSecret),
		Logger:    logger,
	})

	return &App{
		Engine:   engine,
		Store:    store,
		Hub:      hub,
		Presence: tracker,
		Identity: identitySvc,
		Ballot:   ballotSvc,
		Motions:  motionSvc,
		Staff:    auth,
	}
}

// RebuildCache 从数据库重建计票缓存，供健康检查器在Redis重启后调用
func (a *App) RebuildCache(ctx context.Context) error {
	_, err := a.Motions.RebuildCache(ctx)
	return err
}

func newEngine(cfg config.ServerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Mode != gin.ReleaseMode {
		r.Use(gin.Logger())
	}
	corsCfg := cors.Config{
		AllowOrigins:     cfg.Cors.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Signature"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 未配置来源时放行所有来源，cors.New 不接受空列表
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))
	return r
}
