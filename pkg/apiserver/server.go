package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewboard/crewboard/pkg/admission"
	"github.com/crewboard/crewboard/pkg/apiserver/handlers"
	"github.com/crewboard/crewboard/pkg/apiserver/middleware"
	"github.com/crewboard/crewboard/pkg/auth"
	"github.com/crewboard/crewboard/pkg/config"
	"github.com/crewboard/crewboard/pkg/store"
	"github.com/crewboard/crewboard/pkg/store/clickhouse"
	"github.com/crewboard/crewboard/pkg/store/postgres"
	redisclient "github.com/crewboard/crewboard/pkg/store/redis"
)

type Server struct {
	router    *gin.Engine
	db        *postgres.Store
	redis     *redisclient.Client
	auditRepo store.AuditStore
	engine    *admission.Engine
	tokens    *auth.AccessTokenManager
	cfg       *config.Config
	logger    *zap.Logger
}

func NewServer(db *postgres.Store, redis *redisclient.Client, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		db:     db,
		redis:  redis,
		cfg:    cfg,
		logger: logger,
		tokens: auth.NewAccessTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL),
	}

	if cfg.Audit.StorageDriver == "clickhouse" {
		logger.Info("using clickhouse for audit storage")
		auditRepo, err := clickhouse.NewClickHouseAuditStore(
			cfg.ClickHouse.Hosts[0],
			cfg.ClickHouse.Database,
			cfg.ClickHouse.User,
			cfg.ClickHouse.Password,
			logger,
		)
		if err != nil {
			logger.Fatal("failed to initialize clickhouse audit store", zap.Error(err))
		}
		s.auditRepo = auditRepo
	} else if db != nil {
		logger.Info("using postgres for audit storage")
		s.auditRepo = postgres.NewAuditRepository(db.DB())
	}

	if db != nil {
		orders := postgres.NewOrderRepository(db.DB())
		apps := postgres.NewApplicationRepository(db.DB())
		profiles := postgres.NewProfileRepository(db.DB())
		outbox := postgres.NewOutboxRepository(db.DB())
		s.engine = admission.NewEngine(orders, apps, profiles, outbox, s.auditRepo, logger)
	}

	s.setupRouter()

	if cfg.Audit.StorageDriver != "clickhouse" && s.auditRepo != nil {
		go s.startAuditRetentionWorker()
	}

	return s
}

func (s *Server) startAuditRetentionWorker() {
	ticker := time.NewTicker(1 * time.Hour)
	retentionDays := s.cfg.Audit.RetentionDays

	for range ticker.C {
		s.logger.Info("starting audit retention cleanup", zap.Int("retention_days", retentionDays))
		if err := s.auditRepo.DeleteOld(context.Background(), retentionDays); err != nil {
			s.logger.Error("failed to cleanup old audit entries", zap.Error(err))
		}
	}
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	var (
		orders   *postgres.OrderRepository
		apps     *postgres.ApplicationRepository
		profiles *postgres.ProfileRepository
		counts   *redisclient.CountCache
	)
	if s.db != nil {
		orders = postgres.NewOrderRepository(s.db.DB())
		apps = postgres.NewApplicationRepository(s.db.DB())
		profiles = postgres.NewProfileRepository(s.db.DB())
	}
	if s.redis != nil {
		counts = redisclient.NewCountCache(s.redis.Client())
	}

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.tokens))

		orderHandler := handlers.NewOrderHandler(orders, apps, s.engine, s.auditRepo, counts, s.redis, s.logger)
		api.GET("/orders", orderHandler.List)
		api.GET("/orders/:id", orderHandler.Get)

		employer := api.Group("")
		employer.Use(middleware.RequireEmployer())
		employer.POST("/orders", orderHandler.Create)
		employer.GET("/orders/mine", orderHandler.Mine)
		employer.PATCH("/orders/:id", orderHandler.Update)
		employer.DELETE("/orders/:id", orderHandler.Delete)
		employer.POST("/orders/:id/close", orderHandler.Close)
		employer.POST("/orders/:id/reject-all", orderHandler.RejectAll)
		employer.GET("/orders/:id/audit", orderHandler.Audit)

		appHandler := handlers.NewApplicationHandler(s.engine, orders, apps, counts, s.redis, s.logger)
		api.POST("/orders/:id/applications", appHandler.Apply)
		api.GET("/applications/mine", appHandler.Mine)
		employer.POST("/orders/:id/applications/:worker_id/accept", appHandler.Accept)
		employer.GET("/orders/:id/applications", appHandler.ListByOrder)

		queueHandler := handlers.NewQueueHandler(s.engine, s.redis, s.logger)
		api.POST("/orders/:id/queue", queueHandler.Join)
		api.DELETE("/orders/:id/queue", queueHandler.Leave)

		profileHandler := handlers.NewProfileHandler(profiles, s.logger)
		api.GET("/workers/me", profileHandler.GetMe)
		api.PUT("/workers/me", profileHandler.PutMe)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Engine() *admission.Engine {
	return s.engine
}

func (s *Server) AuditRepo() store.AuditStore {
	return s.auditRepo
}
