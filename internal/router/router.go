package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/scanshare/internal/config"
	"github.com/scanshare/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(cfg config.AppConfig, api *handler.API) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	r.Use(sessions.Sessions("scanshare_session", store))

	r.GET("/health", api.Health)

	// 公开分享页
	r.GET("/r/:slug", api.ShowSharedReport)

	apiGroup := r.Group("/api")
	{
		reports := apiGroup.Group("/reports")
		{
			reports.GET("/recent", api.RecentReports)
			reports.GET("/trending", api.Trending)
			reports.GET("/mine", api.MyReports)

			reports.POST("/:id/share", api.CreateShare)
			reports.DELETE("/:id/share", api.DeleteShare)
			reports.PUT("/:id/privacy", api.UpdatePrivacy)
			reports.PUT("/:id/customize", api.UpdateCustomization)
			reports.PUT("/:id/og-image", api.UpdateOGImage)
			reports.POST("/:id/slug/regenerate", api.RegenerateSlug)
			reports.GET("/:id/engagement", api.Engagement)
			reports.GET("/:id/insights", api.Insights)
		}

		apiGroup.POST("/track/share", api.TrackShare)

		analytics := apiGroup.Group("/analytics")
		{
			analytics.GET("/dashboard", api.Dashboard)
			analytics.GET("/funnel", api.Funnel)
		}

		features := apiGroup.Group("/features")
		{
			features.GET("", api.ListFeatures)
			features.GET("/:feature/access", api.CheckFeatureAccess)
		}
	}

	return r
}
