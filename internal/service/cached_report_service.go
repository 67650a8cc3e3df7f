package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/scanshare/internal/cache"
	"github.com/scanshare/internal/db"
)

// ReportAccessor 是报告访问服务的窄接口，缓存装饰器围绕它组合，
// 而不是继承具体实现。
type ReportAccessor interface {
	CreateShareableReport(recordID string, opts ShareOptions) (*db.Report, error)
	GetReportBySlug(slugValue string, callerID string) (*db.Report, error)
	GetPublicReportBySlug(slugValue string) (*db.Report, error)
	ReportByID(recordID string) (*db.Report, error)
	UpdatePrivacy(recordID string, isPublic bool, callerID string) (*db.Report, error)
	DeleteShareableReport(recordID string, callerID string) error
	RegenerateSlug(recordID string, callerID string) (string, error)
	UpdateOGImage(recordID string, imageURL string, callerID string) (*db.Report, error)
	UpdateCustomization(recordID string, title, description *string, callerID string) (*db.Report, error)
	ValidateSlug(slugValue string, excludeID string) error
	RecentPublicReports(limit int) ([]db.Report, error)
	ReportsByOwner(ownerID string) ([]db.Report, error)
}

// CachedReportService 在 ReportAccessor 外加一层 cache-aside 读取和
// 写后失效。缓存故障只记日志，绝不影响底层操作的结果。
type CachedReportService struct {
	base   ReportAccessor
	store  cache.Store
	logger *slog.Logger
}

// NewCachedReportService 创建缓存装饰器。
func NewCachedReportService(base ReportAccessor, store cache.Store, logger *slog.Logger) *CachedReportService {
	return &CachedReportService{base: base, store: store, logger: logger}
}

// GetReportBySlug 先查缓存。缓存条目按 slug 全局共享，因此无论命中与否
// 都要重新做一次访问校验——私有报告的快照可能是属主写入的。
func (c *CachedReportService) GetReportBySlug(slugValue string, callerID string) (*db.Report, error) {
	ctx := context.Background()

	var cached db.Report
	hit, err := cache.GetJSON(ctx, c.store, cache.ReportKey(slugValue), &cached)
	if err != nil {
		c.logger.Warn("report cache read failed", "slug", slugValue, "error", err)
	}
	if hit {
		if !canRead(&cached, callerID) {
			return nil, nil
		}
		return &cached, nil
	}

	report, err := c.base.GetReportBySlug(slugValue, callerID)
	if err != nil || report == nil {
		return report, err
	}

	// 私有报告只有带身份的请求才会写入缓存。
	if report.IsPublic || callerID != "" {
		c.cacheReport(ctx, report)
	}
	return report, nil
}

// GetPublicReportBySlug 公开短路版本，同样走缓存。
func (c *CachedReportService) GetPublicReportBySlug(slugValue string) (*db.Report, error) {
	ctx := context.Background()

	var cached db.Report
	hit, err := cache.GetJSON(ctx, c.store, cache.ReportKey(slugValue), &cached)
	if err != nil {
		c.logger.Warn("report cache read failed", "slug", slugValue, "error", err)
	}
	if hit {
		if !cached.IsPublic {
			return nil, nil
		}
		return &cached, nil
	}

	report, err := c.base.GetPublicReportBySlug(slugValue)
	if err != nil || report == nil {
		return report, err
	}

	c.cacheReport(ctx, report)
	return report, nil
}

// ReportByID 直接透传，按 id 的读取不走缓存。
func (c *CachedReportService) ReportByID(recordID string) (*db.Report, error) {
	return c.base.ReportByID(recordID)
}

// CreateShareableReport 委托底层服务，成功后失效相关缓存键。
func (c *CachedReportService) CreateShareableReport(recordID string, opts ShareOptions) (*db.Report, error) {
	report, err := c.base.CreateShareableReport(recordID, opts)
	if err != nil {
		return nil, err
	}
	c.invalidate(report.ID, slugOf(report))
	return report, nil
}

// UpdatePrivacy 委托底层服务并失效缓存。
func (c *CachedReportService) UpdatePrivacy(recordID string, isPublic bool, callerID string) (*db.Report, error) {
	report, err := c.base.UpdatePrivacy(recordID, isPublic, callerID)
	if err != nil {
		return nil, err
	}
	c.invalidate(report.ID, slugOf(report))
	return report, nil
}

// DeleteShareableReport 先取旧 slug 再删除，否则失效不到旧键。
func (c *CachedReportService) DeleteShareableReport(recordID string, callerID string) error {
	oldSlug := ""
	if prior, err := c.base.ReportByID(recordID); err == nil {
		oldSlug = slugOf(prior)
	}

	if err := c.base.DeleteShareableReport(recordID, callerID); err != nil {
		return err
	}
	c.invalidate(recordID, oldSlug)
	return nil
}

// RegenerateSlug 同时失效新旧两个 report 键。
func (c *CachedReportService) RegenerateSlug(recordID string, callerID string) (string, error) {
	oldSlug := ""
	if prior, err := c.base.ReportByID(recordID); err == nil {
		oldSlug = slugOf(prior)
	}

	newSlug, err := c.base.RegenerateSlug(recordID, callerID)
	if err != nil {
		return "", err
	}
	c.invalidate(recordID, oldSlug, newSlug)
	return newSlug, nil
}

// UpdateOGImage 委托底层服务并失效缓存。
func (c *CachedReportService) UpdateOGImage(recordID string, imageURL string, callerID string) (*db.Report, error) {
	report, err := c.base.UpdateOGImage(recordID, imageURL, callerID)
	if err != nil {
		return nil, err
	}
	c.invalidate(report.ID, slugOf(report))
	return report, nil
}

// UpdateCustomization 委托底层服务并失效缓存。
func (c *CachedReportService) UpdateCustomization(recordID string, title, description *string, callerID string) (*db.Report, error) {
	report, err := c.base.UpdateCustomization(recordID, title, description, callerID)
	if err != nil {
		return nil, err
	}
	c.invalidate(report.ID, slugOf(report))
	return report, nil
}

// ValidateSlug 纯校验，不经过缓存。
func (c *CachedReportService) ValidateSlug(slugValue string, excludeID string) error {
	return c.base.ValidateSlug(slugValue, excludeID)
}

// RecentPublicReports 列表走短 TTL 缓存，失效漏掉也会很快过期。
func (c *CachedReportService) RecentPublicReports(limit int) ([]db.Report, error) {
	ctx := context.Background()

	var cached []db.Report
	hit, err := cache.GetJSON(ctx, c.store, cache.RecentReportsKey(), &cached)
	if err != nil {
		c.logger.Warn("recent reports cache read failed", "error", err)
	}
	if hit && len(cached) >= limit {
		return cached[:limit], nil
	}

	reports, err := c.base.RecentPublicReports(limit)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.store, cache.RecentReportsKey(), reports, cache.ListTTL); err != nil {
		c.logger.Warn("recent reports cache write failed", "error", err)
	}
	return reports, nil
}

// ReportsByOwner 按属主缓存，写操作统一按前缀失效。
func (c *CachedReportService) ReportsByOwner(ownerID string) ([]db.Report, error) {
	ctx := context.Background()
	key := cache.UserReportsKey(ownerID)

	var cached []db.Report
	hit, err := cache.GetJSON(ctx, c.store, key, &cached)
	if err != nil {
		c.logger.Warn("user reports cache read failed", "owner", ownerID, "error", err)
	}
	if hit {
		return cached, nil
	}

	reports, err := c.base.ReportsByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.store, key, reports, cache.ListTTL); err != nil {
		c.logger.Warn("user reports cache write failed", "owner", ownerID, "error", err)
	}
	return reports, nil
}

// WarmUpCache 批量预取公开报告快照。
func (c *CachedReportService) WarmUpCache(slugs []string) {
	ctx := context.Background()

	items := make([]cache.Item, 0, len(slugs))
	for _, slugValue := range slugs {
		report, err := c.base.GetPublicReportBySlug(slugValue)
		if err != nil || report == nil {
			continue
		}
		raw, err := marshalReport(report)
		if err != nil {
			continue
		}
		items = append(items, cache.Item{
			Key:   cache.ReportKey(slugValue),
			Value: raw,
			TTL:   cache.ReportTTL,
		})
	}

	if len(items) == 0 {
		return
	}
	if err := c.store.MSet(ctx, items); err != nil {
		c.logger.Warn("cache warm-up failed", "count", len(items), "error", err)
	}
}

// PreloadRecentReports 预热最近报告列表。
func (c *CachedReportService) PreloadRecentReports() {
	reports, err := c.base.RecentPublicReports(10)
	if err != nil {
		c.logger.Warn("recent reports preload failed", "error", err)
		return
	}
	if err := cache.SetJSON(context.Background(), c.store, cache.RecentReportsKey(), reports, cache.ListTTL); err != nil {
		c.logger.Warn("recent reports preload write failed", "error", err)
	}
}

// ClearAllCaches 清空本子系统使用的全部键族。
func (c *CachedReportService) ClearAllCaches() {
	ctx := context.Background()
	prefixes := []string{
		"report:",
		"recentReports",
		"shareAnalytics:",
		cache.UserReportsPattern(),
		cache.ReportStatsPattern(),
		"engagement:",
		"dashboard:",
		"funnel:",
		"trending:",
	}
	for _, prefix := range prefixes {
		if err := c.store.DeletePattern(ctx, prefix); err != nil {
			c.logger.Warn("cache clear failed", "prefix", prefix, "error", err)
		}
	}
}

// invalidate 执行写路径约定的失效清单。
func (c *CachedReportService) invalidate(reportID string, slugs ...string) {
	ctx := context.Background()

	keys := []string{
		cache.RecentReportsKey(),
		cache.ShareAnalyticsKey(reportID),
	}
	for _, slugValue := range slugs {
		if slugValue != "" {
			keys = append(keys, cache.ReportKey(slugValue))
		}
	}

	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidation failed", "report", reportID, "error", err)
	}
	if err := c.store.DeletePattern(ctx, cache.UserReportsPattern()); err != nil {
		c.logger.Warn("cache invalidation failed", "pattern", cache.UserReportsPattern(), "error", err)
	}
	if err := c.store.DeletePattern(ctx, cache.ReportStatsPattern()); err != nil {
		c.logger.Warn("cache invalidation failed", "pattern", cache.ReportStatsPattern(), "error", err)
	}
}

func (c *CachedReportService) cacheReport(ctx context.Context, report *db.Report) {
	if report.Slug == nil {
		return
	}
	if err := cache.SetJSON(ctx, c.store, cache.ReportKey(*report.Slug), report, cache.ReportTTL); err != nil {
		c.logger.Warn("report cache write failed", "slug", *report.Slug, "error", err)
	}
}

func marshalReport(report *db.Report) ([]byte, error) {
	return json.Marshal(report)
}

func slugOf(report *db.Report) string {
	if report == nil || report.Slug == nil {
		return ""
	}
	return *report.Slug
}
