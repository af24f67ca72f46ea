package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/cloudinary"
	"faceattend/internal/config"
	"faceattend/internal/enroll"
	"faceattend/internal/facerec"
	"faceattend/internal/handler"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/profile"
	"faceattend/internal/store"
)

func main() {
	cfg := config.Load()

	log.SetFormatter(&log.JSONFormatter{})
	if cfg.Env == "dev" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		log.SetLevel(log.DebugLevel)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()

	faceClient := facerec.NewClient(cfg.FaceServiceURL, cfg.FaceTimeout, cfg.FaceSkip)
	if cfg.FaceSkip {
		log.Warn("FACE_SKIP enabled, face verification returns canned encodings")
	}

	profiles := profile.NewRepository(db.Client)
	records := attendance.NewRepository(db.Client)

	checkins := attendance.NewService(profiles, records, faceClient, cfg.FaceTolerance, cfg.FaceTimeout)
	enrollSvc := enroll.NewService(profiles, faceClient, cfg.FaceTimeout)

	var cloud *cloudinary.Client
	if cfg.CloudinaryCloudName != "" {
		cloud = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}

	h := handler.New(checkins, enrollSvc, profiles, records, cloud)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{SkipPaths: []string{"/healthz", "/metrics"}}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(httpmiddleware.RateLimit(newLimiter(cfg, rdb)))

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := gin.H{
			"db":    db.Client.PingContext(ctx) == nil,
			"redis": rdb.Healthy(ctx),
			"face":  faceClient.Health(ctx) == nil,
		}
		c.JSON(http.StatusOK, status)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.POST("/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "device_id required"})
			return
		}
		if err := records.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
			log.WithError(err).Error("register device")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}
		pair, err := auth.Issue(req.DeviceID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			log.WithError(err).Error("issue device token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}
		c.JSON(http.StatusCreated, pair)
	})

	device := api.Group("")
	if cfg.DeviceAuth {
		device.Use(auth.DeviceAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	}
	device.POST("/scan", h.Scan)
	device.POST("/checkin", h.CheckIn)

	api.POST("/profiles", h.CreateProfile)
	api.POST("/profiles/:uid/enroll", h.EnrollProfile)
	api.GET("/profiles", h.ListProfiles)
	api.GET("/profiles/:uid", h.GetProfile)
	api.DELETE("/profiles/:uid", h.DeleteProfile)
	api.GET("/attendance", h.ListAttendance)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("forced shutdown: %v", err)
	}
	log.Info("server exited")
}

func newLimiter(cfg config.App, rdb *store.Redis) httpmiddleware.Limiter {
	if cfg.RateLimitBackend == "redis" {
		return httpmiddleware.NewRedisWindow(rdb.Client, cfg.RateLimitPerMin)
	}
	return httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
}
