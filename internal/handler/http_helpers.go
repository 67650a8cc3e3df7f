package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

// callerID 返回当前请求的用户身份：优先取会话，其次取上游网关
// 注入的 X-User-ID。匿名请求返回空串。
func callerID(c *gin.Context) string {
	session := sessions.Default(c)
	if id, ok := session.Get("user_id").(string); ok && id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader("X-User-ID"))
}

// doNotTrack 上报浏览器的 DNT 信号。
func doNotTrack(c *gin.Context) bool {
	return c.GetHeader("DNT") == "1"
}
