package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/api/handler"
	"github.com/timmy/mmrag/internal/api/middleware"
	"github.com/timmy/mmrag/internal/config"
	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/service"
	"github.com/timmy/mmrag/internal/source"
	"github.com/timmy/mmrag/internal/storage"
)

// Services bundles what the HTTP layer needs.
type Services struct {
	Ingest       *service.IngestService
	Search       *service.SearchService
	Conversation *service.ConversationService
	ChatRoom     *service.ChatRoomService
	User         *service.UserService
	Sources      map[string]source.Source
	Storage      storage.ObjectStorage

	TextModel  string
	JointModel string
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.Config, svc *Services, log *logger.Logger) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	if cfg.Server.MaxUploadSize > 0 {
		r.MaxMultipartMemory = cfg.Server.MaxUploadSize
	}

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler(svc.TextModel, svc.JointModel)
	ingestHandler := handler.NewIngestHandler(svc.Ingest, cfg.Server.MaxUploadSize)
	searchHandler := handler.NewSearchHandler(svc.Search, svc.Storage, cfg.Search.TextThreshold, cfg.Server.MaxUploadSize)
	adminHandler := handler.NewAdminHandler(svc.Ingest, svc.Sources)
	userHandler := handler.NewUserHandler(svc.User)
	conversationHandler := handler.NewConversationHandler(svc.Conversation)
	chatRoomHandler := handler.NewChatRoomHandler(svc.ChatRoom)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		ingest := v1.Group("/ingest")
		ingest.POST("/text", ingestHandler.IngestText)
		ingest.POST("/image", ingestHandler.IngestImage)
		ingest.POST("/multimodal", ingestHandler.IngestMultimodal)
		ingest.POST("/batch", ingestHandler.IngestBatch)

		docs := v1.Group("/documents")
		docs.GET("/:id", ingestHandler.GetDocument)
		docs.PATCH("/:id/metadata", ingestHandler.UpdateMetadata)
		docs.DELETE("/:id", ingestHandler.DeleteDocument)

		v1.POST("/search", searchHandler.Search)
		search := v1.Group("/search")
		search.POST("/text", searchHandler.TextSearch)
		search.POST("/image", searchHandler.ImageSearch)
		search.POST("/multimodal", searchHandler.MultimodalSearch)
		search.POST("/hybrid", searchHandler.HybridSearch)

		admin := v1.Group("/admin")
		admin.POST("/ingest", adminHandler.TriggerIngest)
		admin.GET("/ingest/status", adminHandler.GetIngestStatus)

		users := v1.Group("/users", middleware.RequireUser())
		users.POST("/register", userHandler.Register)
		users.POST("/login", userHandler.Login)
		users.GET("/profile", userHandler.Profile)

		convs := v1.Group("/conversations", middleware.RequireUser())
		convs.POST("/save", conversationHandler.Save)
		convs.POST("/search", conversationHandler.Search)
		convs.GET("/history", conversationHandler.History)
		convs.DELETE("/:id", conversationHandler.Delete)

		rooms := v1.Group("/chatrooms", middleware.RequireUser())
		rooms.POST("/save", chatRoomHandler.Save)
		rooms.GET("", chatRoomHandler.List)
		rooms.GET("/video/:video_id", chatRoomHandler.ListByVideo)
		rooms.GET("/:room_id", chatRoomHandler.Get)
		rooms.DELETE("/:room_id", chatRoomHandler.Delete)
	}

	return r
}
