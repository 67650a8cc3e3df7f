package service

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/scanshare/internal/cache"
	"github.com/scanshare/internal/db"
	"gorm.io/gorm"
)

const (
	defaultRetentionDays = 90
	topListLimit         = 10
)

// AnalyticsService 负责浏览/分享事件的采集与聚合。
// 采集路径绝不向调用方抛错：统计丢一条可以容忍，打断请求不行。
type AnalyticsService struct {
	db            *gorm.DB
	store         cache.Store
	logger        *slog.Logger
	retentionDays int
	respectDNT    bool
}

// NewAnalyticsService 创建 AnalyticsService，默认保留 90 天并尊重 DNT。
func NewAnalyticsService(gdb *gorm.DB, store cache.Store, logger *slog.Logger) *AnalyticsService {
	return &AnalyticsService{
		db:            gdb,
		store:         store,
		logger:        logger,
		retentionDays: defaultRetentionDays,
		respectDNT:    true,
	}
}

// WithRetention 允许在测试或特定场景下调整保留窗口（天）。
func (s *AnalyticsService) WithRetention(days int) *AnalyticsService {
	if days <= 0 {
		return s
	}
	s.retentionDays = days
	return s
}

// WithDoNotTrackPolicy 配置是否尊重 DNT 信号。
func (s *AnalyticsService) WithDoNotTrackPolicy(respect bool) *AnalyticsService {
	s.respectDNT = respect
	return s
}

// ViewData 描述一次报告浏览。IP 为原始地址，入库前匿名化。
type ViewData struct {
	ReportID  string
	IP        string
	UserAgent string
	Referrer  string
	Country   string
}

// ShareData 描述一次分享动作。
type ShareData struct {
	ReportID  string
	Method    string
	Success   bool
	IP        string
	UserAgent string
	Referrer  string
}

// TrackView 记录一次浏览。doNotTrack 且策略尊重时静默跳过。
func (s *AnalyticsService) TrackView(data ViewData, doNotTrack bool) {
	if doNotTrack && s.respectDNT {
		return
	}
	if data.ReportID == "" {
		return
	}

	view := db.ReportView{
		ReportID:     data.ReportID,
		AnonymizedIP: optional(AnonymizeIP(data.IP)),
		UserAgent:    optional(data.UserAgent),
		Referrer:     optional(data.Referrer),
		Country:      optional(data.Country),
	}
	if err := s.db.Create(&view).Error; err != nil {
		s.logger.Warn("failed to record report view", "report", data.ReportID, "error", err)
		return
	}

	s.invalidateMetrics(data.ReportID)
}

// TrackShareEvent 记录一次分享；成功的分享同步累加报告的 ShareCount。
func (s *AnalyticsService) TrackShareEvent(data ShareData) {
	if data.ReportID == "" || data.Method == "" {
		return
	}

	event := db.ShareEvent{
		ReportID:     data.ReportID,
		Method:       data.Method,
		Success:      data.Success,
		AnonymizedIP: optional(AnonymizeIP(data.IP)),
		UserAgent:    optional(data.UserAgent),
		Referrer:     optional(data.Referrer),
	}
	if err := s.db.Create(&event).Error; err != nil {
		s.logger.Warn("failed to record share event", "report", data.ReportID, "error", err)
		return
	}

	if data.Success {
		if err := s.db.Model(&db.Report{}).
			Where("id = ?", data.ReportID).
			Update("share_count", gorm.Expr("share_count + 1")).Error; err != nil {
			s.logger.Warn("failed to increment share count", "report", data.ReportID, "error", err)
		}
	}

	s.invalidateMetrics(data.ReportID)
}

// CountItem 是 referrer/国家这类分组统计的一项。
type CountItem struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// EngagementMetrics 汇总单个报告的互动数据。
type EngagementMetrics struct {
	ReportID       string           `json:"reportId"`
	TotalViews     int64            `json:"totalViews"`
	UniqueViews    int64            `json:"uniqueViews"`
	TotalShares    int64            `json:"totalShares"`
	SharesByMethod map[string]int64 `json:"sharesByMethod"`
	ConversionRate float64          `json:"conversionRate"`
	TopReferrers   []CountItem      `json:"topReferrers"`
	TopCountries   []CountItem      `json:"topCountries"`
}

// GetEngagementMetrics 返回报告的互动指标，结果按报告缓存。
func (s *AnalyticsService) GetEngagementMetrics(reportID string) (*EngagementMetrics, error) {
	ctx := context.Background()
	key := cache.EngagementKey(reportID)

	var cached EngagementMetrics
	if hit, err := cache.GetJSON(ctx, s.store, key, &cached); err != nil {
		s.logger.Warn("engagement cache read failed", "report", reportID, "error", err)
	} else if hit {
		return &cached, nil
	}

	metrics := EngagementMetrics{
		ReportID:       reportID,
		SharesByMethod: make(map[string]int64),
	}

	if err := s.db.Model(&db.ReportView{}).
		Where("report_id = ?", reportID).
		Count(&metrics.TotalViews).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&db.ReportView{}).
		Where("report_id = ? AND anonymized_ip IS NOT NULL", reportID).
		Distinct("anonymized_ip").
		Count(&metrics.UniqueViews).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&db.ShareEvent{}).
		Where("report_id = ? AND success = ?", reportID, true).
		Count(&metrics.TotalShares).Error; err != nil {
		return nil, err
	}

	var methods []struct {
		Method string
		Count  int64
	}
	if err := s.db.Model(&db.ShareEvent{}).
		Select("method, COUNT(*) AS count").
		Where("report_id = ? AND success = ?", reportID, true).
		Group("method").
		Scan(&methods).Error; err != nil {
		return nil, err
	}
	for _, m := range methods {
		metrics.SharesByMethod[m.Method] = m.Count
	}

	if metrics.TotalViews > 0 {
		metrics.ConversionRate = float64(metrics.TotalShares) / float64(metrics.TotalViews) * 100
	}

	var err error
	if metrics.TopReferrers, err = s.topGroup(&db.ReportView{}, "referrer", reportID); err != nil {
		return nil, err
	}
	if metrics.TopCountries, err = s.topGroup(&db.ReportView{}, "country", reportID); err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, s.store, key, metrics, cache.AnalyticsTTL); err != nil {
		s.logger.Warn("engagement cache write failed", "report", reportID, "error", err)
	}

	return &metrics, nil
}

// DailyPoint 是仪表盘时间序列中的一天，没有事件的天也会出现（计零）。
type DailyPoint struct {
	Date   string `json:"date"`
	Views  int64  `json:"views"`
	Shares int64  `json:"shares"`
}

// ReportRank 描述仪表盘上的热门报告。
type ReportRank struct {
	ReportID   string `json:"reportId"`
	Slug       string `json:"slug,omitempty"`
	SourceURL  string `json:"sourceUrl"`
	ShareCount int    `json:"shareCount"`
	Views      int64  `json:"views"`
}

// DashboardData 聚合一段时间内的整体表现。
type DashboardData struct {
	TotalReports       int64              `json:"totalReports"`
	PublicReports      int64              `json:"publicReports"`
	TotalViews         int64              `json:"totalViews"`
	TotalShares        int64              `json:"totalShares"`
	ViralCoefficient   float64            `json:"viralCoefficient"`
	DailySeries        []DailyPoint       `json:"dailySeries"`
	TopReports         []ReportRank       `json:"topReports"`
	MethodSuccessRates map[string]float64 `json:"methodSuccessRates"`
}

// GetDashboardData 汇总 days 天内的仪表盘数据；ownerID 为空表示全站。
func (s *AnalyticsService) GetDashboardData(ownerID string, days int) (*DashboardData, error) {
	if days <= 0 {
		days = 30
	}

	ctx := context.Background()
	key := cache.DashboardKey(ownerID, days)

	var cached DashboardData
	if hit, err := cache.GetJSON(ctx, s.store, key, &cached); err != nil {
		s.logger.Warn("dashboard cache read failed", "owner", ownerID, "error", err)
	} else if hit {
		return &cached, nil
	}

	since := startOfDay(time.Now().AddDate(0, 0, -(days - 1)))
	data := DashboardData{MethodSuccessRates: make(map[string]float64)}

	reportQuery := s.db.Model(&db.Report{})
	if ownerID != "" {
		reportQuery = reportQuery.Where("owner_id = ?", ownerID)
	}
	if err := reportQuery.Count(&data.TotalReports).Error; err != nil {
		return nil, err
	}

	publicQuery := s.db.Model(&db.Report{}).Where("is_public = ?", true)
	if ownerID != "" {
		publicQuery = publicQuery.Where("owner_id = ?", ownerID)
	}
	if err := publicQuery.Count(&data.PublicReports).Error; err != nil {
		return nil, err
	}

	viewQuery := s.scopedEvents(&db.ReportView{}, ownerID).Where("report_views.created_at >= ?", since)
	if err := viewQuery.Count(&data.TotalViews).Error; err != nil {
		return nil, err
	}

	shareQuery := s.scopedEvents(&db.ShareEvent{}, ownerID).
		Where("share_events.created_at >= ? AND share_events.success = ?", since, true)
	if err := shareQuery.Count(&data.TotalShares).Error; err != nil {
		return nil, err
	}

	if data.TotalViews > 0 {
		data.ViralCoefficient = float64(data.TotalShares) / float64(data.TotalViews)
	}

	series, err := s.dailySeries(ownerID, since, days)
	if err != nil {
		return nil, err
	}
	data.DailySeries = series

	topReports, err := s.topReports(ownerID)
	if err != nil {
		return nil, err
	}
	data.TopReports = topReports

	rates, err := s.methodSuccessRates(ownerID, since)
	if err != nil {
		return nil, err
	}
	data.MethodSuccessRates = rates

	if err := cache.SetJSON(ctx, s.store, key, data, cache.DashboardTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", "owner", ownerID, "error", err)
	}

	return &data, nil
}

// ConversionFunnel 是 created → viewed → shared 三段漏斗。
// 各层在 created 集合内统计，因此层数一定单调不增。
type ConversionFunnel struct {
	Created   int64   `json:"created"`
	Viewed    int64   `json:"viewed"`
	Shared    int64   `json:"shared"`
	ViewedPct float64 `json:"viewedPct"`
	SharedPct float64 `json:"sharedPct"`
}

// GetConversionFunnel 统计 days 天内创建的报告的转化情况。
func (s *AnalyticsService) GetConversionFunnel(ownerID string, days int) (*ConversionFunnel, error) {
	if days <= 0 {
		days = 30
	}

	ctx := context.Background()
	key := cache.FunnelKey(ownerID, days)

	var cached ConversionFunnel
	if hit, err := cache.GetJSON(ctx, s.store, key, &cached); err != nil {
		s.logger.Warn("funnel cache read failed", "owner", ownerID, "error", err)
	} else if hit {
		return &cached, nil
	}

	since := startOfDay(time.Now().AddDate(0, 0, -(days - 1)))

	createdQuery := s.db.Model(&db.Report{}).Where("created_at >= ?", since)
	if ownerID != "" {
		createdQuery = createdQuery.Where("owner_id = ?", ownerID)
	}

	var ids []string
	if err := createdQuery.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	funnel := ConversionFunnel{Created: int64(len(ids))}

	if len(ids) > 0 {
		if err := s.db.Model(&db.ReportView{}).
			Where("report_id IN ?", ids).
			Distinct("report_id").
			Count(&funnel.Viewed).Error; err != nil {
			return nil, err
		}
		if err := s.db.Model(&db.ShareEvent{}).
			Where("report_id IN ? AND success = ?", ids, true).
			Distinct("report_id").
			Count(&funnel.Shared).Error; err != nil {
			return nil, err
		}
	}

	if funnel.Created > 0 {
		funnel.ViewedPct = float64(funnel.Viewed) / float64(funnel.Created) * 100
		funnel.SharedPct = float64(funnel.Shared) / float64(funnel.Created) * 100
	}

	if err := cache.SetJSON(ctx, s.store, key, funnel, cache.DashboardTTL); err != nil {
		s.logger.Warn("funnel cache write failed", "owner", ownerID, "error", err)
	}

	return &funnel, nil
}

// ReportActivity 是趋势榜用的窗口内活跃度。
type ReportActivity struct {
	ReportID string
	Views    int64
	Shares   int64
}

// ActivitySince 返回窗口内有浏览或分享的报告及其计数。
func (s *AnalyticsService) ActivitySince(days int) ([]ReportActivity, error) {
	if days <= 0 {
		days = 7
	}
	since := startOfDay(time.Now().AddDate(0, 0, -(days - 1)))

	byReport := make(map[string]*ReportActivity)

	var viewRows []struct {
		ReportID string
		Count    int64
	}
	if err := s.db.Model(&db.ReportView{}).
		Select("report_id, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("report_id").
		Scan(&viewRows).Error; err != nil {
		return nil, err
	}
	for _, row := range viewRows {
		byReport[row.ReportID] = &ReportActivity{ReportID: row.ReportID, Views: row.Count}
	}

	var shareRows []struct {
		ReportID string
		Count    int64
	}
	if err := s.db.Model(&db.ShareEvent{}).
		Select("report_id, COUNT(*) AS count").
		Where("created_at >= ? AND success = ?", since, true).
		Group("report_id").
		Scan(&shareRows).Error; err != nil {
		return nil, err
	}
	for _, row := range shareRows {
		activity, ok := byReport[row.ReportID]
		if !ok {
			activity = &ReportActivity{ReportID: row.ReportID}
			byReport[row.ReportID] = activity
		}
		activity.Shares = row.Count
	}

	result := make([]ReportActivity, 0, len(byReport))
	for _, activity := range byReport {
		result = append(result, *activity)
	}
	return result, nil
}

// CleanupOldData 删除保留窗口之外的事件行。按截止时间删除，
// 与在线写入并发执行是安全的，可重复运行。
func (s *AnalyticsService) CleanupOldData() (views int64, shares int64, err error) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	viewResult := s.db.Where("created_at < ?", cutoff).Delete(&db.ReportView{})
	if viewResult.Error != nil {
		return 0, 0, viewResult.Error
	}

	shareResult := s.db.Where("created_at < ?", cutoff).Delete(&db.ShareEvent{})
	if shareResult.Error != nil {
		return viewResult.RowsAffected, 0, shareResult.Error
	}

	return viewResult.RowsAffected, shareResult.RowsAffected, nil
}

// AnonymizeIP 按隐私规则截断 IP：IPv4 清零最后一段，
// IPv6 保留前 4 组、清零其余。无法解析时返回空串。
func AnonymizeIP(raw string) string {
	ip := net.ParseIP(raw)
	if ip == nil {
		return ""
	}

	if v4 := ip.To4(); v4 != nil {
		masked := make(net.IP, len(v4))
		copy(masked, v4)
		masked[3] = 0
		return masked.String()
	}

	v6 := ip.To16()
	masked := make(net.IP, len(v6))
	copy(masked, v6)
	for i := 8; i < 16; i++ {
		masked[i] = 0
	}
	return masked.String()
}

func (s *AnalyticsService) invalidateMetrics(reportID string) {
	ctx := context.Background()

	keys := []string{
		cache.EngagementKey(reportID),
		cache.ReportStatsKey(reportID),
		cache.ShareAnalyticsKey(reportID),
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		s.logger.Warn("metrics invalidation failed", "report", reportID, "error", err)
	}

	for _, prefix := range []string{"dashboard:", "funnel:", "trending:"} {
		if err := s.store.DeletePattern(ctx, prefix); err != nil {
			s.logger.Warn("metrics invalidation failed", "prefix", prefix, "error", err)
		}
	}
}

// scopedEvents 在 ownerID 非空时把事件查询限定到该属主的报告。
func (s *AnalyticsService) scopedEvents(model interface{}, ownerID string) *gorm.DB {
	query := s.db.Model(model)
	if ownerID != "" {
		query = query.Where("report_id IN (?)",
			s.db.Model(&db.Report{}).Select("id").Where("owner_id = ?", ownerID))
	}
	return query
}

func (s *AnalyticsService) dailySeries(ownerID string, since time.Time, days int) ([]DailyPoint, error) {
	type dayRow struct {
		Day   string
		Count int64
	}

	var viewRows []dayRow
	if err := s.scopedEvents(&db.ReportView{}, ownerID).
		Select("DATE(report_views.created_at) AS day, COUNT(*) AS count").
		Where("report_views.created_at >= ?", since).
		Group("day").
		Scan(&viewRows).Error; err != nil {
		return nil, err
	}

	var shareRows []dayRow
	if err := s.scopedEvents(&db.ShareEvent{}, ownerID).
		Select("DATE(share_events.created_at) AS day, COUNT(*) AS count").
		Where("share_events.created_at >= ? AND share_events.success = ?", since, true).
		Group("day").
		Scan(&shareRows).Error; err != nil {
		return nil, err
	}

	viewsByDay := make(map[string]int64, len(viewRows))
	for _, row := range viewRows {
		viewsByDay[row.Day] = row.Count
	}
	sharesByDay := make(map[string]int64, len(shareRows))
	for _, row := range shareRows {
		sharesByDay[row.Day] = row.Count
	}

	// 每天一个桶，没有事件的天补零。
	series := make([]DailyPoint, 0, days)
	for i := 0; i < days; i++ {
		date := since.AddDate(0, 0, i).Format("2006-01-02")
		series = append(series, DailyPoint{
			Date:   date,
			Views:  viewsByDay[date],
			Shares: sharesByDay[date],
		})
	}
	return series, nil
}

func (s *AnalyticsService) topReports(ownerID string) ([]ReportRank, error) {
	query := s.db.Model(&db.Report{})
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}

	var reports []db.Report
	if err := query.
		Where("slug IS NOT NULL").
		Order("share_count DESC").
		Limit(topListLimit).
		Find(&reports).Error; err != nil {
		return nil, err
	}

	ranks := make([]ReportRank, 0, len(reports))
	for _, report := range reports {
		rank := ReportRank{
			ReportID:   report.ID,
			SourceURL:  report.SourceURL,
			ShareCount: report.ShareCount,
		}
		if report.Slug != nil {
			rank.Slug = *report.Slug
		}
		if err := s.db.Model(&db.ReportView{}).
			Where("report_id = ?", report.ID).
			Count(&rank.Views).Error; err != nil {
			return nil, err
		}
		ranks = append(ranks, rank)
	}

	// 并列的 shareCount 按浏览量排。
	for i := 0; i < len(ranks); i++ {
		for j := i + 1; j < len(ranks); j++ {
			if ranks[j].ShareCount == ranks[i].ShareCount && ranks[j].Views > ranks[i].Views {
				ranks[i], ranks[j] = ranks[j], ranks[i]
			}
		}
	}
	return ranks, nil
}

func (s *AnalyticsService) methodSuccessRates(ownerID string, since time.Time) (map[string]float64, error) {
	var rows []struct {
		Method    string
		Total     int64
		Succeeded int64
	}
	if err := s.scopedEvents(&db.ShareEvent{}, ownerID).
		Select("method, COUNT(*) AS total, SUM(CASE WHEN success THEN 1 ELSE 0 END) AS succeeded").
		Where("share_events.created_at >= ?", since).
		Group("method").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	rates := make(map[string]float64, len(rows))
	for _, row := range rows {
		if row.Total > 0 {
			rates[row.Method] = float64(row.Succeeded) / float64(row.Total) * 100
		}
	}
	return rates, nil
}

func (s *AnalyticsService) topGroup(model interface{}, column string, reportID string) ([]CountItem, error) {
	var rows []struct {
		Label string
		Count int64
	}
	if err := s.db.Model(model).
		Select(column+" AS label, COUNT(*) AS count").
		Where("report_id = ? AND "+column+" IS NOT NULL AND "+column+" <> ''", reportID).
		Group(column).
		Order("count DESC").
		Limit(topListLimit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]CountItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, CountItem{Label: row.Label, Count: row.Count})
	}
	return items, nil
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
