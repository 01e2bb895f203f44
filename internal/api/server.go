package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bookstore/internal/api/auth"
	"bookstore/internal/api/books"
	"bookstore/internal/api/middleware"
	"bookstore/internal/config"
	"bookstore/internal/model"
	"bookstore/internal/pkg/metrics"
	"bookstore/internal/pkg/notify"
	"bookstore/internal/pkg/queue"
	"bookstore/internal/pkg/ratelimit"
	"bookstore/internal/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const (
	rateLimitPrefix  = "bookstore:ratelimit:"
	mailTaskTimeout  = 30 * time.Second
	mailDrainTimeout = 10 * time.Second
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、邮件队列以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	tokens    *auth.TokenService
	auth      *auth.Handler
	books     *books.Handler
	limiter   middleware.Limiter
	mailQueue *queue.Queue
}

// components 是组装路由所需的可替换依赖。
type components struct {
	users    auth.UserStore
	books    books.BookStore
	uploader books.ImageUploader
	notifier auth.Notifier
	limiter  middleware.Limiter
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis（路由限流）
// 3. 创建 S3 客户端与邮件队列
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	// 初始化失败时释放已建立的连接
	s := &Server{db: db, logger: logger}
	fail := func(err error) (*Server, error) {
		if closeErr := s.Close(); closeErr != nil {
			logger.Warn("release resources after init failure", slog.String("error", closeErr.Error()))
		}
		return nil, err
	}

	if err := db.AutoMigrate(&model.User{}, &model.Book{}); err != nil {
		return fail(fmt.Errorf("auto migrate: %w", err))
	}

	s.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fail(fmt.Errorf("ping redis: %w", err))
	}

	store, err := storage.NewS3Store(ctx, &cfg.Storage)
	if err != nil {
		return fail(err)
	}

	mailQueue := queue.New(logger, cfg.App.MailWorkers, cfg.App.MailQueueCapacity, mailTaskTimeout)
	dispatcher := notify.NewDispatcher(mailQueue, notify.NewEmailNotifier(&cfg.Email, logger), logger)

	metrics.InitMetrics()

	built, err := assemble(cfg, logger, components{
		users:    auth.NewUserStore(db),
		books:    books.NewBookStore(db),
		uploader: store,
		notifier: dispatcher,
		limiter:  ratelimit.NewIntervalLimiter(s.rdb, rateLimitPrefix, cfg.App.RouteRateInterval),
	})
	if err != nil {
		return fail(err)
	}
	built.db = s.db
	built.rdb = s.rdb
	built.mailQueue = mailQueue
	return built, nil
}

// assemble 创建 handler 并注册路由。
func assemble(cfg *config.Config, logger *slog.Logger, c components) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	// 限流按客户端 IP 计数，只有来自可信代理的 X-Forwarded-For 才被采用
	if err := r.SetTrustedProxies(cfg.App.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.SecureHeaders())
	r.Use(middleware.Sanitize(logger))

	tokens := auth.NewTokenService(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		router:  r,
		tokens:  tokens,
		auth:    auth.NewHandler(c.users, tokens, c.notifier, cfg.Security.BcryptCost, logger),
		books:   books.NewHandler(c.books, c.uploader, cfg.App.MaxUploadBytes, logger),
		limiter: c.limiter,
	}
	s.registerRoutes()
	return s, nil
}

// Start 启动后台邮件 worker。
func (s *Server) Start(ctx context.Context) {
	if s.mailQueue != nil {
		s.mailQueue.Start(ctx)
	}
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// SeedAdmin 在配置了管理员账号时确保其存在。
func (s *Server) SeedAdmin(ctx context.Context) error {
	sec := s.cfg.Security
	if sec.AdminEmail == "" || sec.AdminPassword == "" {
		return nil
	}
	created, err := s.auth.EnsureUser(ctx, "Administrator", sec.AdminEmail, sec.AdminPassword, []model.Role{model.RoleAdmin})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		s.logger.Info("admin user created", slog.String("email", sec.AdminEmail))
	}
	return nil
}

// Close 排空邮件队列并关闭数据库与缓存连接。
func (s *Server) Close() error {
	var errs []error
	if s.mailQueue != nil {
		if err := s.mailQueue.Shutdown(mailDrainTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			errs = append(errs, err)
		} else if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "mysql"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
