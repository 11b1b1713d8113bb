package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/far365/user-role-app-sub001/internal/attendance"
	"github.com/far365/user-role-app-sub001/internal/auth"
	"github.com/far365/user-role-app-sub001/internal/checkin"
	"github.com/far365/user-role-app-sub001/internal/config"
	"github.com/far365/user-role-app-sub001/internal/dismissal"
	"github.com/far365/user-role-app-sub001/internal/events"
	"github.com/far365/user-role-app-sub001/internal/httpmiddleware"
	"github.com/far365/user-role-app-sub001/internal/qrtoken"
	"github.com/far365/user-role-app-sub001/internal/queue"
	"github.com/far365/user-role-app-sub001/internal/roster"
	"github.com/far365/user-role-app-sub001/internal/store"
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
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var bus events.Bus
	if cfg.BusBackend == "memory" {
		bus = events.NewInMemory(64)
	} else {
		bus = events.NewRedisBus(redisClient.Client, "dismissal:events")
	}

	codec, err := qrtoken.New([]byte(cfg.QRSigningKey))
	if err != nil {
		return fmt.Errorf("qr signing key: %w", err)
	}

	rosterClient := roster.New(cfg.RosterURL, cfg.RosterSkip)
	if cfg.RosterSkip {
		log.Println("roster service skipped, using canned roster")
	}

	attSvc := attendance.NewService(attendance.NewRepository(db.Client), rosterClient)
	disSvc := dismissal.NewService(dismissal.NewRepository(db.Client), rosterClient)
	queueSvc := queue.NewService(queue.NewRepository(db.Client), rosterClient, disSvc)
	scanSvc := checkin.NewService(codec, queueSvc, disSvc, attSvc)

	publish := func(c *gin.Context, msgType, body string) {
		if err := bus.Publish(c.Request.Context(), events.Message{Type: msgType, Body: []byte(body)}); err != nil {
			log.Printf("event publish failed: %v", err)
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
			Role     string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Role == "" {
			req.Role = "scanner"
		}
		tokens, err := auth.Issue(req.DeviceID, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	v1 := r.Group("/v1", auth.DeviceAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	// resolveQueue returns the explicit queue id or falls back to the
	// current Open queue. Empty string when neither exists.
	resolveQueue := func(c *gin.Context, explicit string) string {
		if explicit != "" {
			return explicit
		}
		open, err := queueSvc.GetOpen(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return ""
		}
		if open == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no open queue"})
			return ""
		}
		return open.QueueID
	}

	// Queue lifecycle.

	v1.POST("/queues", func(c *gin.Context) {
		var req struct {
			StartedBy string `json:"started_by" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q, seeded, err := queueSvc.Create(c.Request.Context(), req.StartedBy)
		if err != nil {
			writeError(c, err)
			return
		}
		publish(c, events.TypeQueueCreated, q.QueueID)
		c.JSON(http.StatusCreated, gin.H{"queue": q, "seeded": seeded})
	})

	v1.POST("/queues/close", func(c *gin.Context) {
		var req struct {
			ClosedBy string `json:"closed_by" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q, err := queueSvc.Close(c.Request.Context(), req.ClosedBy)
		if err != nil {
			writeError(c, err)
			return
		}
		publish(c, events.TypeQueueClosed, q.QueueID)
		c.JSON(http.StatusOK, gin.H{"queue": q})
	})

	v1.GET("/queues/current", func(c *gin.Context) {
		q, err := queueSvc.GetOpen(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		if q == nil {
			// No open queue is a normal state, not an error.
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{"queue": q})
	})

	v1.GET("/queues", func(c *gin.Context) {
		list, err := queueSvc.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"queues": list})
	})

	v1.DELETE("/queues/:id", func(c *gin.Context) {
		if err := queueSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Dismissal records.

	v1.POST("/dismissals", func(c *gin.Context) {
		var req struct {
			QueueID     string            `json:"queue_id"`
			StudentID   string            `json:"student_id" binding:"required"`
			StudentName string            `json:"student_name"`
			Grade       string            `json:"grade"`
			Status      string            `json:"status"`
			Contact     dismissal.Contact `json:"contact"`
			AddMethod   string            `json:"add_method"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		queueID := resolveQueue(c, req.QueueID)
		if queueID == "" {
			return
		}
		id, err := disSvc.Create(c.Request.Context(), queueID, req.StudentID, req.StudentName, req.Grade,
			dismissal.Status(req.Status), req.Contact, req.AddMethod)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"record_id": id, "queue_id": queueID})
	})

	v1.PUT("/dismissals/student", func(c *gin.Context) {
		var req struct {
			QueueID   string `json:"queue_id"`
			StudentID string `json:"student_id" binding:"required"`
			Status    string `json:"status" binding:"required"`
			Actor     string `json:"actor"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		queueID := resolveQueue(c, req.QueueID)
		if queueID == "" {
			return
		}
		rec, err := disSvc.UpdateStatusByStudent(c.Request.Context(), queueID, req.StudentID,
			dismissal.Status(req.Status), req.Actor)
		if err != nil {
			writeError(c, err)
			return
		}
		publish(c, events.TypeDismissalUpdated, queueID+"|"+req.Status+"|1")
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	v1.PUT("/dismissals/grade", func(c *gin.Context) {
		var req struct {
			QueueID   string `json:"queue_id"`
			Grade     string `json:"grade" binding:"required"`
			Status    string `json:"status" binding:"required"`
			AddMethod string `json:"add_method"`
			Actor     string `json:"actor"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		queueID := resolveQueue(c, req.QueueID)
		if queueID == "" {
			return
		}
		n, err := disSvc.UpdateStatusForGrade(c.Request.Context(), queueID, req.Grade,
			dismissal.Status(req.Status), req.AddMethod, req.Actor)
		if err != nil {
			writeError(c, err)
			return
		}
		publish(c, events.TypeDismissalUpdated, fmt.Sprintf("%s|%s|%d", queueID, req.Status, n))
		c.JSON(http.StatusOK, gin.H{"queue_id": queueID, "updated": n})
	})

	v1.POST("/dismissals/parent-scan", func(c *gin.Context) {
		var req struct {
			ContactID   string `json:"contact_id"`
			ContactName string `json:"contact_name"`
			Building    string `json:"building"`
			Actor       string `json:"actor"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		queueID, n, err := scanSvc.ParentScan(c.Request.Context(), req.ContactID, req.ContactName, req.Building, req.Actor)
		if err != nil {
			writeError(c, err)
			return
		}
		if n > 0 {
			publish(c, events.TypeDismissalUpdated, fmt.Sprintf("%s|%s|%d", queueID, dismissal.StatusInQueue, n))
		}
		c.JSON(http.StatusOK, gin.H{"queue_id": queueID, "updated": n})
	})

	v1.POST("/dismissals/student-scan", func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
			Actor string `json:"actor"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := scanSvc.StudentScan(c.Request.Context(), req.Token, req.Actor)
		if err != nil {
			writeError(c, err)
			return
		}
		publish(c, events.TypeDismissalUpdated, rec.QueueID+"|"+string(rec.Status)+"|1")
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	v1.POST("/dismissals/pickup-confirm", func(c *gin.Context) {
		var req struct {
			QueueID     string `json:"queue_id"`
			StudentID   string `json:"student_id" binding:"required"`
			ConfirmedBy string `json:"confirmed_by" binding:"required"`
			Issue       string `json:"issue"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		queueID := resolveQueue(c, req.QueueID)
		if queueID == "" {
			return
		}
		rec, err := disSvc.ConfirmPickup(c.Request.Context(), queueID, req.StudentID, req.ConfirmedBy, req.Issue)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	v1.GET("/dismissals", func(c *gin.Context) {
		queueID := resolveQueue(c, c.Query("queue_id"))
		if queueID == "" {
			return
		}
		recs, err := disSvc.ListByGrade(c.Request.Context(), queueID, c.Query("grade"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"queue_id": queueID, "records": recs})
	})

	v1.GET("/dismissals/counts", func(c *gin.Context) {
		queueID := resolveQueue(c, c.Query("queue_id"))
		if queueID == "" {
			return
		}
		counts, err := disSvc.CountByStatus(c.Request.Context(), queueID, c.Query("grade"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"queue_id": queueID, "counts": counts})
	})

	// Attendance.

	v1.PUT("/attendance/student", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			Status    string `json:"status" binding:"required"`
			UpdatedBy string `json:"updated_by"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := attSvc.SetArrivalStatus(c.Request.Context(), req.StudentID,
			attendance.ArrivalStatus(req.Status), req.UpdatedBy)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	v1.POST("/attendance/scan", func(c *gin.Context) {
		var req struct {
			Token  string `json:"token" binding:"required"`
			Status string `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := scanSvc.AttendanceScan(c.Request.Context(), req.Token,
			attendance.ArrivalStatus(req.Status))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	v1.PUT("/attendance/grade", func(c *gin.Context) {
		var req struct {
			Grade     string `json:"grade" binding:"required"`
			Status    string `json:"status" binding:"required"`
			UpdatedBy string `json:"updated_by"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		n, err := attSvc.SetArrivalStatusForGrade(c.Request.Context(), req.Grade,
			attendance.ArrivalStatus(req.Status), req.UpdatedBy)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": n})
	})

	// QR tokens.

	v1.POST("/qr/generate", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := codec.Generate(req.StudentID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	v1.POST("/qr/verify", func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		studentID, err := codec.Verify(req.Token)
		if err != nil {
			if errors.Is(err, qrtoken.ErrMalformedToken) {
				c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
				return
			}
			if errors.Is(err, qrtoken.ErrSignatureMismatch) {
				c.JSON(http.StatusOK, gin.H{"valid": false})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": true, "student_id": studentID})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// writeError maps domain errors to HTTP statuses: validation 400, missing
// targets 404, lifecycle conflicts 409, everything else 500.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dismissal.ErrInvalid),
		errors.Is(err, attendance.ErrInvalid),
		errors.Is(err, queue.ErrInvalid),
		errors.Is(err, qrtoken.ErrMalformedToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, qrtoken.ErrSignatureMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid qr token"})
	case errors.Is(err, dismissal.ErrNotFound),
		errors.Is(err, queue.ErrNotFound),
		errors.Is(err, queue.ErrNoOpenQueue):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, dismissal.ErrDuplicate),
		errors.Is(err, dismissal.ErrQueueClosed),
		errors.Is(err, queue.ErrAlreadyOpen):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// CORS middleware for browser requests
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

// Security headers middleware
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
