package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"activity/api/handlers"
	"activity/api/middleware"
	"activity/services"
)

func PublicApi(router *gin.Engine, sessions *services.SessionService) *gin.RouterGroup {
	router.GET("/healthz", handlers.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	publicEndpoints := router.Group("/api/v1/")
	{
		credential := publicEndpoints.Group("", middleware.RateLimitMiddleware(2, 10))
		{
			credential.POST("auth/register", handlers.Register)
			credential.POST("auth/login", handlers.Login)
		}
		publicEndpoints.GET("auth/nickname", handlers.CheckNickname)

		authed := publicEndpoints.Group("", middleware.RequireSession(sessions))
		{
			authed.POST("auth/logout", handlers.Logout)
			authed.GET("auth/session", handlers.Session)

			authed.POST("activities", handlers.CreateActivity)
			authed.DELETE("activities/:activity_id", handlers.DeleteActivity)
			authed.GET("feed", handlers.GetFeed)
			authed.GET("feed/ws", handlers.WSFeedHandler)
		}
	}
	return publicEndpoints
}
