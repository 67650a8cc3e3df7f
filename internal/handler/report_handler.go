package handler

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/scanshare/internal/db"
	"github.com/scanshare/internal/service"
	"github.com/scanshare/internal/slug"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

const (
	visitorCookieName   = "ss_visitor_id"
	visitorCookieMaxAge = 365 * 24 * 60 * 60
)

// visitorID 读取或签发匿名访客 Cookie，用于粗粒度的回访识别。
func visitorID(c *gin.Context) string {
	if id, err := c.Cookie(visitorCookieName); err == nil && id != "" {
		return id
	}
	id := uuid.NewString()
	c.SetCookie(visitorCookieName, id, visitorCookieMaxAge, "/", "", false, true)
	return id
}

// renderDescription 把自定义描述当作 Markdown 渲染并消毒。
func renderDescription(raw string) string {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(raw), &buf); err != nil {
		return ""
	}
	return sanitizer.Sanitize(buf.String())
}

func (a *API) reportView(report *db.Report) gin.H {
	view := gin.H{
		"id":            report.ID,
		"sourceUrl":     report.SourceURL,
		"securityScore": report.SecurityScore,
		"isPublic":      report.IsPublic,
		"shareCount":    report.ShareCount,
		"hasAiAnalysis": report.HasAIAnalysis,
		"createdAt":     report.CreatedAt,
	}
	if report.Slug != nil {
		view["slug"] = *report.Slug
		view["shareUrl"] = strings.TrimRight(a.cfg.SiteBaseURL, "/") + "/r/" + *report.Slug
	}
	if report.CustomTitle != nil {
		view["title"] = *report.CustomTitle
	}
	if report.CustomDescription != nil {
		view["descriptionHtml"] = renderDescription(*report.CustomDescription)
	}
	if report.OGImageURL != nil {
		view["ogImageUrl"] = *report.OGImageURL
	}
	return view
}

// ShowSharedReport 处理 GET /r/:slug：公开读取并顺带记录浏览。
func (a *API) ShowSharedReport(c *gin.Context) {
	slugValue := c.Param("slug")
	if err := slug.Validate(slugValue); err != nil {
		respondError(c, http.StatusNotFound, "report not found")
		return
	}

	visitorID(c)

	report, err := a.svc.GetReportWithTracking(slugValue, callerID(c), service.ViewData{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
		Country:   c.GetHeader("CF-IPCountry"),
	}, doNotTrack(c))
	if err != nil {
		a.logger.Error("shared report lookup failed", "slug", slugValue, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load report")
		return
	}
	if report == nil {
		respondError(c, http.StatusNotFound, "report not found")
		return
	}

	c.JSON(http.StatusOK, a.reportView(report))
}

type shareRequest struct {
	IsPublic          bool    `json:"isPublic"`
	CustomTitle       *string `json:"customTitle"`
	CustomDescription *string `json:"customDescription"`
}

// CreateShare 处理 POST /api/reports/:id/share。
func (a *API) CreateShare(c *gin.Context) {
	var req shareRequest
	if !bindJSON(c, &req, "invalid share request") {
		return
	}

	report, err := a.reports.CreateShareableReport(c.Param("id"), service.ShareOptions{
		IsPublic:          req.IsPublic,
		CustomTitle:       req.CustomTitle,
		CustomDescription: req.CustomDescription,
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, a.reportView(report))
}

type privacyRequest struct {
	IsPublic bool `json:"isPublic"`
}

// UpdatePrivacy 处理 PUT /api/reports/:id/privacy。
func (a *API) UpdatePrivacy(c *gin.Context) {
	var req privacyRequest
	if !bindJSON(c, &req, "invalid privacy request") {
		return
	}

	report, err := a.reports.UpdatePrivacy(c.Param("id"), req.IsPublic, callerID(c))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.reportView(report))
}

type customizeRequest struct {
	CustomTitle       *string `json:"customTitle"`
	CustomDescription *string `json:"customDescription"`
}

// UpdateCustomization 处理 PUT /api/reports/:id/customize。
func (a *API) UpdateCustomization(c *gin.Context) {
	var req customizeRequest
	if !bindJSON(c, &req, "invalid customization request") {
		return
	}

	report, err := a.reports.UpdateCustomization(c.Param("id"), req.CustomTitle, req.CustomDescription, callerID(c))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.reportView(report))
}

type ogImageRequest struct {
	ImageURL string `json:"imageUrl"`
}

// UpdateOGImage 处理 PUT /api/reports/:id/og-image。
func (a *API) UpdateOGImage(c *gin.Context) {
	var req ogImageRequest
	if !bindJSON(c, &req, "invalid og image request") {
		return
	}

	report, err := a.reports.UpdateOGImage(c.Param("id"), req.ImageURL, callerID(c))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.reportView(report))
}

// RegenerateSlug 处理 POST /api/reports/:id/slug/regenerate。
func (a *API) RegenerateSlug(c *gin.Context) {
	newSlug, err := a.reports.RegenerateSlug(c.Param("id"), callerID(c))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"slug":     newSlug,
		"shareUrl": strings.TrimRight(a.cfg.SiteBaseURL, "/") + "/r/" + newSlug,
	})
}

// DeleteShare 处理 DELETE /api/reports/:id/share。
func (a *API) DeleteShare(c *gin.Context) {
	if err := a.reports.DeleteShareableReport(c.Param("id"), callerID(c)); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MyReports 处理 GET /api/reports/mine。
func (a *API) MyReports(c *gin.Context) {
	owner := callerID(c)
	if owner == "" {
		respondError(c, http.StatusUnauthorized, "sign in required")
		return
	}

	reports, err := a.reports.ReportsByOwner(owner)
	if err != nil {
		a.logger.Error("owner report listing failed", "owner", owner, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to list reports")
		return
	}

	views := make([]gin.H, 0, len(reports))
	for i := range reports {
		views = append(views, a.reportView(&reports[i]))
	}
	c.JSON(http.StatusOK, gin.H{"reports": views})
}

// RecentReports 处理 GET /api/reports/recent。
func (a *API) RecentReports(c *gin.Context) {
	limit := parsePositiveInt(c.DefaultQuery("limit", "10"), 10)

	reports, err := a.reports.RecentPublicReports(limit)
	if err != nil {
		a.logger.Error("recent report listing failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to list reports")
		return
	}

	views := make([]gin.H, 0, len(reports))
	for i := range reports {
		views = append(views, a.reportView(&reports[i]))
	}
	c.JSON(http.StatusOK, gin.H{"reports": views})
}

// respondServiceError 把服务层的哨兵错误映射为 HTTP 状态码。
func (a *API) respondServiceError(c *gin.Context, err error) {
	switch err {
	case service.ErrReportNotFound:
		respondError(c, http.StatusNotFound, "report not found")
	case service.ErrAccessDenied:
		respondError(c, http.StatusForbidden, "access denied")
	case service.ErrSlugConflict:
		respondError(c, http.StatusConflict, "share link conflict, retry later")
	case slug.ErrSlugExhausted:
		respondError(c, http.StatusConflict, "could not allocate a share link")
	case slug.ErrInvalidSlug:
		respondError(c, http.StatusBadRequest, "invalid share link")
	default:
		a.logger.Error("report operation failed", "error", err)
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}
