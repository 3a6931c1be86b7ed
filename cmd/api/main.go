package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/auth"
	"rollcall/internal/classify"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/identity"
	"rollcall/internal/ledger"
	"rollcall/internal/match"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
	"rollcall/internal/token"
	"rollcall/internal/verify"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	var (
		idRepo   identity.Repository
		ledRepo  ledger.Repository
		sessRepo session.Repository
	)

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		if cfg.Env != "dev" {
			return err
		}
		log.Printf("warning: db not reachable (%v), using in-memory stores", err)
		idRepo = identity.NewInMemRepository()
		ledRepo = ledger.NewInMemRepository()
		sessRepo = session.NewInMemRepository()
	} else {
		defer db.Close()
		idRepo = identity.NewPostgresRepository(db.Client)
		ledRepo = ledger.NewPostgresRepository(db.Client)
		sessRepo = session.NewPostgresRepository(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:scans")
	}

	loc := cfg.Location()
	codec := token.NewCodec(cfg.JWTIssuer, cfg.JWTSigningKey)
	ids := identity.NewService(idRepo, cfg.MinEnrollSamples, cfg.MinDescriptorQuality, cfg.DescriptorDim)
	engine := match.NewEngine(cfg.MatchThreshold)
	cls := classify.NewClassifier(cfg.MatchThreshold, cfg.MatchLateBand)
	sessions := session.NewManager(sessRepo, ledRepo, codec, session.Defaults{
		Duration:      cfg.DefaultSessionDuration,
		LateThreshold: cfg.DefaultLateThreshold,
	}, loc)
	ver := verify.NewService(ids, engine, cls, ledRepo, sessions, codec, loc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbState(db)})
	})

	r.POST("/v1/staff/login", func(c *gin.Context) {
		var req struct {
			StaffID   string `json:"staff_id" binding:"required"`
			AccessKey string `json:"access_key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.AccessKey != cfg.StaffAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
			return
		}
		tokens, err := auth.Issue(req.StaffID, "staff", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Scan endpoints stay open: they are hit by student devices that only
	// hold QR payloads, and every write is still gated by the signed
	// payloads plus the ledger's dedup and capacity checks.
	r.POST("/v1/scan/session", func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, err := ver.ScanSession(c.Request.Context(), req.Token)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": s.ID,
			"subject":    s.Subject,
			"expires_at": s.ExpiresAt,
			"next":       "scan identity token",
		})
	})

	r.POST("/v1/scan/identity", func(c *gin.Context) {
		var req struct {
			SessionID     string `json:"session_id" binding:"required"`
			IdentityToken string `json:"identity_token"`
			IdentityID    string `json:"identity_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var (
			res verify.Result
			err error
		)
		switch {
		case req.IdentityToken != "":
			res, err = ver.ScanIdentityPayload(c.Request.Context(), req.SessionID, req.IdentityToken)
		case req.IdentityID != "":
			res, err = ver.ScanIdentity(c.Request.Context(), req.SessionID, req.IdentityID)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "identity_token or identity_id required"})
			return
		}
		if err != nil {
			respondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	authGroup := r.Group("/v1", auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/identities", func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			RollCode string `json:"roll_code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := ids.Register(c.Request.Context(), req.Name, req.RollCode)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, id)
	})

	authGroup.GET("/identities", func(c *gin.Context) {
		list, err := ids.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"identities": list})
	})

	authGroup.POST("/identities/:id/enroll", func(c *gin.Context) {
		var req struct {
			Descriptors []identity.Descriptor `json:"descriptors" binding:"required"`
			Replace     bool                  `json:"replace"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		summary, err := ids.Enroll(c.Request.Context(), c.Param("id"), req.Descriptors, req.Replace)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	authGroup.POST("/identities/:id/token", func(c *gin.Context) {
		identityID := c.Param("id")
		if _, err := ids.Get(c.Request.Context(), identityID); err != nil {
			respondDomainError(c, err)
			return
		}
		payload, err := codec.IdentityPayload(identityID, cfg.IdentityTokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"identity_id": identityID, "token": payload})
	})

	authGroup.GET("/identities/:id/history", func(c *gin.Context) {
		identityID := c.Param("id")
		events, err := ledRepo.Query(c.Request.Context(), ledger.Filter{IdentityID: identityID})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		summary, err := ledRepo.Summary(c.Request.Context(), identityID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": summary, "events": events})
	})

	authGroup.POST("/verify/face", func(c *gin.Context) {
		var req struct {
			Descriptor []float64 `json:"descriptor" binding:"required"`
			Subject    string    `json:"subject" binding:"required"`
			SessionID  *string   `json:"session_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := ver.VerifyFace(c.Request.Context(), req.Descriptor, req.Subject, req.SessionID)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	authGroup.POST("/checkins", func(c *gin.Context) {
		var req struct {
			ImageURL  string `json:"image_url" binding:"required"`
			Subject   string `json:"subject" binding:"required"`
			SessionID string `json:"session_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job := queue.ScanJob{ImageURL: req.ImageURL, Subject: req.Subject, SessionID: req.SessionID}
		if err := q.Publish(c.Request.Context(), job); err != nil {
			log.Printf("queue publish failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan queue unavailable"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	})

	authGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Subject              string `json:"subject" binding:"required"`
			DurationMinutes      int    `json:"duration_minutes"`
			LateThresholdMinutes int    `json:"late_threshold_minutes"`
			AllowLateEntry       *bool  `json:"allow_late_entry"`
			Capacity             int    `json:"capacity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		allowLate := true
		if req.AllowLateEntry != nil {
			allowLate = *req.AllowLateEntry
		}
		claims := staffClaims(c)
		s, payload, err := sessions.Create(c.Request.Context(), session.CreateParams{
			Subject:        req.Subject,
			CreatorID:      claims.Subject,
			Duration:       time.Duration(req.DurationMinutes) * time.Minute,
			LateThreshold:  time.Duration(req.LateThresholdMinutes) * time.Minute,
			AllowLateEntry: allowLate,
			Capacity:       req.Capacity,
		})
		if err != nil {
			respondDomainError(c, err)
			return
		}
		metrics.SessionsCreated.Inc()
		c.JSON(http.StatusCreated, gin.H{
			"session_id": s.ID,
			"token":      payload,
			"expires_at": s.ExpiresAt,
		})
	})

	authGroup.GET("/sessions/active", func(c *gin.Context) {
		list, err := sessions.Active(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	})

	authGroup.GET("/sessions/:id/stats", func(c *gin.Context) {
		stats, err := sessions.Stats(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	authGroup.POST("/sessions/:id/end", func(c *gin.Context) {
		if err := sessions.End(c.Request.Context(), c.Param("id")); err != nil {
			respondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ended": true})
	})

	authGroup.GET("/events", func(c *gin.Context) {
		f := ledger.Filter{
			Subject:    c.Query("subject"),
			Day:        c.Query("day"),
			IdentityID: c.Query("identity_id"),
			SessionID:  c.Query("session_id"),
		}
		events, err := ledRepo.Query(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	authGroup.DELETE("/events", func(c *gin.Context) {
		f := ledger.Filter{
			Subject:    c.Query("subject"),
			Day:        c.Query("day"),
			IdentityID: c.Query("identity_id"),
			SessionID:  c.Query("session_id"),
		}
		if f == (ledger.Filter{}) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one filter required"})
			return
		}
		removed, err := ledRepo.Purge(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"purged": removed})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// dbState reports which persistence backend is serving. The dev fallback to
// in-memory stores is a deliberate mode, not an outage.
func dbState(db *store.DB) string {
	if db == nil {
		return "memory"
	}
	return "ok"
}

func staffClaims(c *gin.Context) auth.Claims {
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	return claims
}

// respondDomainError maps expected domain outcomes to stable HTTP responses;
// anything else is an infrastructure failure.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, identity.ErrInsufficientSamples):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_samples", "detail": err.Error()})
	case errors.Is(err, identity.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "identity_not_found"})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	case errors.Is(err, session.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "session_expired"})
	case errors.Is(err, session.ErrEnded):
		c.JSON(http.StatusGone, gin.H{"error": "session_ended"})
	case errors.Is(err, ledger.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "capacity_exceeded"})
	case errors.Is(err, session.ErrLateEntryDisallowed):
		c.JSON(http.StatusConflict, gin.H{"error": "late_entry_disallowed"})
	case errors.Is(err, token.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
