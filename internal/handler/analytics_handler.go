package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scanshare/internal/service"
)

type trackShareRequest struct {
	ReportID string `json:"reportId" binding:"required"`
	Method   string `json:"method" binding:"required"`
	Success  bool   `json:"success"`
}

// TrackShare 处理 POST /api/track/share，返回该报告的最新互动指标。
func (a *API) TrackShare(c *gin.Context) {
	var req trackShareRequest
	if !bindJSON(c, &req, "invalid share event") {
		return
	}

	metrics, err := a.svc.ShareWithTracking(service.ShareData{
		ReportID:  req.ReportID,
		Method:    req.Method,
		Success:   req.Success,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	})
	if err != nil {
		a.logger.Error("share tracking failed", "report", req.ReportID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to record share")
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// Engagement 处理 GET /api/reports/:id/engagement。
func (a *API) Engagement(c *gin.Context) {
	metrics, err := a.analytics.GetEngagementMetrics(c.Param("id"))
	if err != nil {
		a.logger.Error("engagement lookup failed", "report", c.Param("id"), "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load engagement metrics")
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// Dashboard 处理 GET /api/analytics/dashboard。
// 登录用户看自己的数据，days 由查询参数控制。
func (a *API) Dashboard(c *gin.Context) {
	days := parsePositiveInt(c.DefaultQuery("days", "30"), 30)

	data, err := a.analytics.GetDashboardData(callerID(c), days)
	if err != nil {
		a.logger.Error("dashboard aggregation failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	c.JSON(http.StatusOK, data)
}

// Funnel 处理 GET /api/analytics/funnel。
func (a *API) Funnel(c *gin.Context) {
	days := parsePositiveInt(c.DefaultQuery("days", "30"), 30)

	funnel, err := a.analytics.GetConversionFunnel(callerID(c), days)
	if err != nil {
		a.logger.Error("funnel aggregation failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load funnel")
		return
	}
	c.JSON(http.StatusOK, funnel)
}

// Trending 处理 GET /api/reports/trending。
func (a *API) Trending(c *gin.Context) {
	limit := parsePositiveInt(c.DefaultQuery("limit", "10"), 10)

	trending, err := a.svc.TrendingReports(a.cfg.TrendingWindowDays, limit)
	if err != nil {
		a.logger.Error("trending aggregation failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load trending reports")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": trending})
}

// Insights 处理 GET /api/reports/:id/insights。
func (a *API) Insights(c *gin.Context) {
	insights, err := a.svc.GetPerformanceInsights(c.Param("id"), callerID(c))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, insights)
}
