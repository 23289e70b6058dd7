package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"tutorllm/internal/bootstrap"
	mysqlClient "tutorllm/internal/platform/mysql"
	rabbitmqClient "tutorllm/internal/platform/rabbitmq"
	redisClient "tutorllm/internal/platform/redis"
	"tutorllm/internal/transport/http/handler"
	"tutorllm/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	cfg := app.Config
	maxUpload := int64(cfg.Storage.MaxUploadMB) << 20
	router.MaxMultipartMemory = maxUpload

	healthHandler := handler.NewHealthHandler(cfg.App.Name, cfg.App.Env, app.StartedAt, healthChecks(app))
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.Auth)
	chatHandler := handler.NewChatHandler(app.Chats)
	studyHandler := handler.NewStudyHandler(app.Study.Tutor, maxUpload)
	requireAuth := middleware.AuthJWT(cfg.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", requireAuth, authHandler.Me)

	studyGroup := v1.Group("")
	studyGroup.Use(requireAuth)
	studyGroup.POST("/documents", studyHandler.Upload)
	studyGroup.GET("/documents", studyHandler.ListDocuments)
	studyGroup.POST("/query", studyHandler.Query)
	studyGroup.POST("/flashcards", studyHandler.Flashcards)
	studyGroup.POST("/quizzes", studyHandler.Quiz)

	chatGroup := v1.Group("/chats")
	chatGroup.Use(requireAuth)
	chatGroup.POST("", chatHandler.CreateSession)
	chatGroup.GET("", chatHandler.ListSessions)
	chatGroup.GET("/:id", chatHandler.GetSession)
	chatGroup.DELETE("/:id", chatHandler.DeleteSession)

	return router
}

func healthChecks(app *bootstrap.App) map[string]handler.Check {
	checks := map[string]handler.Check{
		"mysql": func(ctx context.Context) error { return mysqlClient.Ping(ctx, app.MySQL) },
		"index": func(ctx context.Context) error {
			_, err := app.Study.Gateway.Count(ctx)
			return err
		},
		"model": app.Study.LLM.Ping,
	}
	if app.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx, app.Redis) }
	}
	if app.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error { return rabbitmqClient.Ping(app.MQConn) }
	}
	return checks
}
