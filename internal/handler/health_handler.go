package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health 处理 GET /health：检查数据库连接与缓存后端。
func (a *API) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	dbState := "ok"
	cacheState := "ok"

	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		dbState = err.Error()
		status = http.StatusServiceUnavailable
	}

	if err := a.store.Health(ctx); err != nil {
		cacheState = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"database": dbState,
		"cache":    cacheState,
	})
}
