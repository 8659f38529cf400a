package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/escuela-app/enrollment-api/api/swagger"
	"github.com/escuela-app/enrollment-api/internal/handler"
	"github.com/escuela-app/enrollment-api/internal/middleware"
	"github.com/escuela-app/enrollment-api/internal/models"
	"github.com/escuela-app/enrollment-api/internal/repository"
	"github.com/escuela-app/enrollment-api/internal/service"
	"github.com/escuela-app/enrollment-api/pkg/cache"
	"github.com/escuela-app/enrollment-api/pkg/config"
	"github.com/escuela-app/enrollment-api/pkg/database"
	"github.com/escuela-app/enrollment-api/pkg/logger"
	corsmiddleware "github.com/escuela-app/enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/escuela-app/enrollment-api/pkg/middleware/requestid"
)

// @title Enrollment API
// @version 1.0.0
// @description Academic enrollment and integrity engine
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, listing cache disabled", zap.Error(err))
			redisClient = nil
		}
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	validate := validator.New()

	careerRepo := repository.NewCareerRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	userRepo := repository.NewUserRepository(db)

	metricsSvc := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr, metricsSvc)
	authSvc := service.NewAuthService(userRepo, cfg.JWT, validate, logr)
	careerSvc := service.NewCareerService(careerRepo, cacheRepo, cfg.Cache.ListingTTL, validate, logr)
	subjectSvc := service.NewSubjectService(subjectRepo, careerRepo, enrollmentRepo, cacheRepo, cfg.Cache.ListingTTL, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, careerRepo, cfg.Students.CodeRetries, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, subjectRepo, validate, logr, metricsSvc)

	authHandler := handler.NewAuthHandler(authSvc)
	careerHandler := handler.NewCareerHandler(careerSvc)
	subjectHandler := handler.NewSubjectHandler(subjectSvc, enrollmentSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db.PingContext)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	registerRoutes(api, authSvc, authHandler, careerHandler, subjectHandler, studentHandler, enrollmentHandler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func registerRoutes(api *gin.RouterGroup, authSvc *service.AuthService, auth *handler.AuthHandler, careers *handler.CareerHandler, subjects *handler.SubjectHandler, students *handler.StudentHandler, enrollments *handler.EnrollmentHandler) {
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/login", auth.Login)
		authRoutes.POST("/change-password", middleware.JWT(authSvc), auth.ChangePassword)
		authRoutes.GET("/me", middleware.JWT(authSvc), auth.Me)
	}

	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	careerRoutes := api.Group("/careers")
	{
		careerRoutes.GET("", careers.List)
		careerRoutes.GET("/:id", careers.Get)
		careerRoutes.POST("", middleware.JWT(authSvc), adminOnly, careers.Create)
		careerRoutes.PUT("/:id", middleware.JWT(authSvc), adminOnly, careers.Update)
		careerRoutes.DELETE("/:id", middleware.JWT(authSvc), adminOnly, careers.Delete)
	}

	subjectRoutes := api.Group("/subjects")
	{
		subjectRoutes.GET("", subjects.List)
		subjectRoutes.GET("/:id", subjects.Get)
		subjectRoutes.GET("/:id/availability", subjects.Availability)
		subjectRoutes.POST("", middleware.JWT(authSvc), adminOnly, subjects.Create)
		subjectRoutes.PUT("/:id", middleware.JWT(authSvc), adminOnly, subjects.Update)
		subjectRoutes.DELETE("/:id", middleware.JWT(authSvc), adminOnly, subjects.Delete)
		subjectRoutes.GET("/:id/roster/export", middleware.JWT(authSvc), adminOnly, subjects.ExportRoster)
	}

	studentRoutes := api.Group("/students", middleware.JWT(authSvc), adminOnly)
	{
		studentRoutes.GET("", students.List)
		studentRoutes.GET("/:id", students.Get)
		studentRoutes.POST("", students.Create)
		studentRoutes.PUT("/:id", students.Update)
		studentRoutes.DELETE("/:id", students.Delete)
	}

	enrollmentRoutes := api.Group("/enrollments", middleware.JWT(authSvc))
	{
		enrollmentRoutes.GET("", enrollments.List)
		enrollmentRoutes.POST("", enrollments.Create)
		enrollmentRoutes.PUT("/:id/status", enrollments.UpdateStatus)
		enrollmentRoutes.DELETE("/:id", enrollments.Withdraw)
	}
}
