package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"teledrive-go/internal/middleware"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/events"
	"teledrive-go/pkg/token"
)

// Deps 汇总注册路由所需的依赖。Redis 和 Hub 可以为 nil。
type Deps struct {
	Uploads          service.UploadService
	Files            service.FileService
	Auth             service.AuthService
	JWT              *token.JWTManager
	Hub              *events.Hub
	Redis            *redis.Client
	UploadsPerMinute int
}

// NewRouter 创建路由引擎并注册所有路由。
func NewRouter(d Deps) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.AuthMiddleware(d.JWT)
	fileHandler := NewFileHandler(d.Files, d.Auth)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/login", NewAuthHandler(d.Auth).Login)

		files := apiV1.Group("/files")
		{
			// 无需认证的路由
			files.POST("", middleware.UploadRateLimit(d.Redis, d.UploadsPerMinute), NewUploadHandler(d.Uploads).Upload)
			files.GET("", fileHandler.List)
			files.GET("/search", fileHandler.Search)
			files.GET("/stats", fileHandler.Stats)
			files.GET("/:id", fileHandler.Get)
			files.GET("/:id/download", fileHandler.Download)

			// 需要管理员认证的路由
			files.PUT("/:id/name", auth, fileHandler.Rename)
			files.DELETE("/:id", auth, fileHandler.Delete)
			files.POST("/:id/share", auth, fileHandler.Share)
		}
	}

	r.GET("/s/:token", NewShareHandler(d.Files, d.Auth).Download)
	if d.Hub != nil {
		r.GET("/ws/events", NewEventsHandler(d.Hub).Handle)
	}
	return r
}
