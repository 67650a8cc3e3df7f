package service

import (
	"context"
	"log/slog"
	"sort"

	"github.com/scanshare/internal/cache"
	"github.com/scanshare/internal/db"
)

// IntegratedService 把缓存后的报告服务与统计服务组合成带埋点的
// 读写入口，并派生趋势榜、表现洞察这类跨组件数据。
type IntegratedService struct {
	reports   *CachedReportService
	analytics *AnalyticsService
	store     cache.Store
	logger    *slog.Logger
}

// NewIntegratedService 创建 IntegratedService。
func NewIntegratedService(reports *CachedReportService, analytics *AnalyticsService, store cache.Store, logger *slog.Logger) *IntegratedService {
	return &IntegratedService{
		reports:   reports,
		analytics: analytics,
		store:     store,
		logger:    logger,
	}
}

// Reports 暴露底层的缓存报告服务。
func (s *IntegratedService) Reports() *CachedReportService {
	return s.reports
}

// Analytics 暴露底层的统计服务。
func (s *IntegratedService) Analytics() *AnalyticsService {
	return s.analytics
}

// GetReportWithTracking 读取报告并顺带记录浏览。
// 埋点失败只影响统计，不影响读取结果。
func (s *IntegratedService) GetReportWithTracking(slugValue string, callerID string, view ViewData, doNotTrack bool) (*db.Report, error) {
	report, err := s.reports.GetReportBySlug(slugValue, callerID)
	if err != nil || report == nil {
		return report, err
	}

	view.ReportID = report.ID
	s.analytics.TrackView(view, doNotTrack)

	return report, nil
}

// ShareWithTracking 执行分享埋点并返回该报告的最新互动指标。
func (s *IntegratedService) ShareWithTracking(data ShareData) (*EngagementMetrics, error) {
	s.analytics.TrackShareEvent(data)
	return s.analytics.GetEngagementMetrics(data.ReportID)
}

// TrendingReport 是趋势榜中的一项。
type TrendingReport struct {
	ReportID      string `json:"reportId"`
	Slug          string `json:"slug"`
	SourceURL     string `json:"sourceUrl"`
	SecurityScore int    `json:"securityScore"`
	Views         int64  `json:"views"`
	Shares        int64  `json:"shares"`
	Score         int64  `json:"score"`
}

// TrendingReports 返回窗口内最活跃的公开报告。
// 评分为 views + 2*shares，分享比浏览更能说明传播。
func (s *IntegratedService) TrendingReports(days, limit int) ([]TrendingReport, error) {
	if limit <= 0 {
		limit = 10
	}

	ctx := context.Background()
	key := cache.TrendingKey(days)

	var cached []TrendingReport
	if hit, err := cache.GetJSON(ctx, s.store, key, &cached); err != nil {
		s.logger.Warn("trending cache read failed", "error", err)
	} else if hit {
		if len(cached) > limit {
			cached = cached[:limit]
		}
		return cached, nil
	}

	activity, err := s.analytics.ActivitySince(days)
	if err != nil {
		return nil, err
	}

	sort.Slice(activity, func(i, j int) bool {
		return activity[i].Views+2*activity[i].Shares > activity[j].Views+2*activity[j].Shares
	})

	trending := make([]TrendingReport, 0, limit)
	for _, entry := range activity {
		if len(trending) == limit {
			break
		}
		report, err := s.reports.ReportByID(entry.ReportID)
		if err != nil || report == nil {
			continue
		}
		// 榜单只展示仍处于公开分享状态的报告。
		if !report.IsPublic || report.Slug == nil {
			continue
		}
		trending = append(trending, TrendingReport{
			ReportID:      report.ID,
			Slug:          *report.Slug,
			SourceURL:     report.SourceURL,
			SecurityScore: report.SecurityScore,
			Views:         entry.Views,
			Shares:        entry.Shares,
			Score:         entry.Views + 2*entry.Shares,
		})
	}

	if err := cache.SetJSON(ctx, s.store, key, trending, cache.ListTTL); err != nil {
		s.logger.Warn("trending cache write failed", "error", err)
	}

	return trending, nil
}

// PerformanceInsights 汇总单个报告的表现与改进建议。
type PerformanceInsights struct {
	ReportID        string             `json:"reportId"`
	Engagement      *EngagementMetrics `json:"engagement"`
	SharePercentile float64            `json:"sharePercentile"`
	Recommendations []string           `json:"recommendations"`
}

// GetPerformanceInsights 返回报告相对属主其他报告的表现与建议。
func (s *IntegratedService) GetPerformanceInsights(recordID string, callerID string) (*PerformanceInsights, error) {
	report, err := s.reports.ReportByID(recordID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && report.OwnerID != nil && *report.OwnerID != callerID {
		return nil, ErrAccessDenied
	}

	ctx := context.Background()
	key := cache.ReportStatsKey(recordID)

	var cached PerformanceInsights
	if hit, err := cache.GetJSON(ctx, s.store, key, &cached); err != nil {
		s.logger.Warn("insights cache read failed", "report", recordID, "error", err)
	} else if hit {
		return &cached, nil
	}

	engagement, err := s.analytics.GetEngagementMetrics(recordID)
	if err != nil {
		return nil, err
	}

	insights := PerformanceInsights{
		ReportID:   recordID,
		Engagement: engagement,
	}

	if report.OwnerID != nil {
		peers, err := s.reports.ReportsByOwner(*report.OwnerID)
		if err != nil {
			return nil, err
		}
		insights.SharePercentile = sharePercentile(report, peers)
	}

	insights.Recommendations = buildRecommendations(report, engagement)

	if err := cache.SetJSON(ctx, s.store, key, insights, cache.AnalyticsTTL); err != nil {
		s.logger.Warn("insights cache write failed", "report", recordID, "error", err)
	}

	return &insights, nil
}

// sharePercentile 计算报告分享量在同属主报告中的百分位。
func sharePercentile(report *db.Report, peers []db.Report) float64 {
	if len(peers) <= 1 {
		return 100
	}

	below := 0
	for _, peer := range peers {
		if peer.ID == report.ID {
			continue
		}
		if peer.ShareCount <= report.ShareCount {
			below++
		}
	}
	return float64(below) / float64(len(peers)-1) * 100
}

func buildRecommendations(report *db.Report, engagement *EngagementMetrics) []string {
	recommendations := make([]string, 0, 4)

	if !report.IsPublic {
		recommendations = append(recommendations, "report is private; make it public to reach more viewers")
	}
	if report.OGImageURL == nil {
		recommendations = append(recommendations, "set a share card image to improve click-through on social platforms")
	}
	if report.CustomTitle == nil {
		recommendations = append(recommendations, "add a custom title so shares stand out from raw URLs")
	}
	if engagement.TotalViews >= 50 && engagement.ConversionRate < 1 {
		recommendations = append(recommendations, "views are not converting to shares; consider a clearer call to action")
	}

	return recommendations
}
