package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/scanshare/internal/db"
	"gorm.io/gorm"
)

func newAnalyticsService(t *testing.T, gdb *gorm.DB) *AnalyticsService {
	t.Helper()
	return NewAnalyticsService(gdb, newCacheStore(t), testLogger())
}

func TestAnonymizeIP(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"203.0.113.42", "203.0.113.0"},
		{"10.1.2.3", "10.1.2.0"},
		{"2001:db8:85a3:8d3:1319:8a2e:370:7348", "2001:db8:85a3:8d3::"},
		{"::1", "::"},
		{"not-an-ip", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := AnonymizeIP(c.in); got != c.want {
			t.Fatalf("AnonymizeIP(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTrackViewPersistsAnonymizedIP(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-view", SourceURL: "https://example.com/v"})

	svc.TrackView(ViewData{
		ReportID:  "rec-view",
		IP:        "203.0.113.42",
		UserAgent: "test-agent",
		Referrer:  "https://news.ycombinator.com",
		Country:   "DE",
	}, false)

	var view db.ReportView
	if err := gdb.First(&view).Error; err != nil {
		t.Fatalf("expected a persisted view: %v", err)
	}
	if view.AnonymizedIP == nil || *view.AnonymizedIP != "203.0.113.0" {
		t.Fatalf("raw IP leaked into storage: %v", view.AnonymizedIP)
	}
}

func TestTrackViewHonorsDoNotTrack(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-dnt", SourceURL: "https://example.com/d"})

	svc.TrackView(ViewData{ReportID: "rec-dnt", IP: "203.0.113.42"}, true)

	var count int64
	gdb.Model(&db.ReportView{}).Count(&count)
	if count != 0 {
		t.Fatalf("DNT view was persisted, count = %d", count)
	}

	// 策略关闭时照常记录。
	svc.WithDoNotTrackPolicy(false)
	svc.TrackView(ViewData{ReportID: "rec-dnt", IP: "203.0.113.42"}, true)
	gdb.Model(&db.ReportView{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 view with policy disabled, got %d", count)
	}
}

func TestTrackShareIncrementsShareCount(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-share", SourceURL: "https://example.com/s"})

	svc.TrackShareEvent(ShareData{ReportID: "rec-share", Method: "copy", Success: true})
	svc.TrackShareEvent(ShareData{ReportID: "rec-share", Method: "native", Success: false})

	var report db.Report
	if err := gdb.Where("id = ?", "rec-share").First(&report).Error; err != nil {
		t.Fatalf("failed to reload report: %v", err)
	}
	if report.ShareCount != 1 {
		t.Fatalf("share count = %d, want 1 (failed shares do not count)", report.ShareCount)
	}

	var events int64
	gdb.Model(&db.ShareEvent{}).Count(&events)
	if events != 2 {
		t.Fatalf("expected both events persisted, got %d", events)
	}
}

func TestEngagementMetricsConversionScenario(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-conv", SourceURL: "https://example.com/c"})

	// 100 次浏览、5 次成功分享。
	for i := 0; i < 100; i++ {
		svc.TrackView(ViewData{ReportID: "rec-conv", IP: fmt.Sprintf("10.0.%d.9", i)}, false)
	}
	for i := 0; i < 5; i++ {
		svc.TrackShareEvent(ShareData{ReportID: "rec-conv", Method: "copy", Success: true})
	}

	metrics, err := svc.GetEngagementMetrics("rec-conv")
	if err != nil {
		t.Fatalf("GetEngagementMetrics returned error: %v", err)
	}
	if metrics.TotalViews != 100 {
		t.Fatalf("total views = %d, want 100", metrics.TotalViews)
	}
	if metrics.TotalShares != 5 {
		t.Fatalf("total shares = %d, want 5", metrics.TotalShares)
	}
	if metrics.ConversionRate != 5.0 {
		t.Fatalf("conversion rate = %v, want 5.0", metrics.ConversionRate)
	}
	if metrics.SharesByMethod["copy"] != 5 {
		t.Fatalf("shares by method = %v", metrics.SharesByMethod)
	}

	dashboard, err := svc.GetDashboardData("", 7)
	if err != nil {
		t.Fatalf("GetDashboardData returned error: %v", err)
	}
	if dashboard.ViralCoefficient != 0.05 {
		t.Fatalf("viral coefficient = %v, want 0.05", dashboard.ViralCoefficient)
	}
}

func TestEngagementMetricsZeroViews(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-zero", SourceURL: "https://example.com/z"})

	metrics, err := svc.GetEngagementMetrics("rec-zero")
	if err != nil {
		t.Fatalf("GetEngagementMetrics returned error: %v", err)
	}
	if metrics.ConversionRate != 0 {
		t.Fatalf("conversion rate with zero views = %v, want 0", metrics.ConversionRate)
	}

	dashboard, err := svc.GetDashboardData("", 7)
	if err != nil {
		t.Fatalf("GetDashboardData returned error: %v", err)
	}
	if dashboard.ViralCoefficient != 0 {
		t.Fatalf("viral coefficient with zero views = %v, want 0", dashboard.ViralCoefficient)
	}
}

func TestUniqueViewsDedupeByAnonymizedIP(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-uniq", SourceURL: "https://example.com/u"})

	// 同一 /24 内的地址匿名化后相同，只算一个独立访客。
	svc.TrackView(ViewData{ReportID: "rec-uniq", IP: "203.0.113.1"}, false)
	svc.TrackView(ViewData{ReportID: "rec-uniq", IP: "203.0.113.2"}, false)
	svc.TrackView(ViewData{ReportID: "rec-uniq", IP: "198.51.100.7"}, false)

	metrics, err := svc.GetEngagementMetrics("rec-uniq")
	if err != nil {
		t.Fatalf("GetEngagementMetrics returned error: %v", err)
	}
	if metrics.TotalViews != 3 {
		t.Fatalf("total views = %d, want 3", metrics.TotalViews)
	}
	if metrics.UniqueViews != 2 {
		t.Fatalf("unique views = %d, want 2", metrics.UniqueViews)
	}
}

func TestTopReferrersLimitedToTen(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-ref", SourceURL: "https://example.com/r"})

	for i := 0; i < 15; i++ {
		svc.TrackView(ViewData{
			ReportID: "rec-ref",
			Referrer: fmt.Sprintf("https://site-%d.example", i),
		}, false)
	}
	// 一个 referrer 出现两次，应排第一。
	svc.TrackView(ViewData{ReportID: "rec-ref", Referrer: "https://site-3.example"}, false)

	metrics, err := svc.GetEngagementMetrics("rec-ref")
	if err != nil {
		t.Fatalf("GetEngagementMetrics returned error: %v", err)
	}
	if len(metrics.TopReferrers) != 10 {
		t.Fatalf("top referrers = %d entries, want 10", len(metrics.TopReferrers))
	}
	if metrics.TopReferrers[0].Label != "https://site-3.example" || metrics.TopReferrers[0].Count != 2 {
		t.Fatalf("unexpected top referrer %+v", metrics.TopReferrers[0])
	}
}

func TestDashboardDailySeriesZeroFilled(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-days", SourceURL: "https://example.com/dd"})

	svc.TrackView(ViewData{ReportID: "rec-days"}, false)

	dashboard, err := svc.GetDashboardData("", 7)
	if err != nil {
		t.Fatalf("GetDashboardData returned error: %v", err)
	}
	if len(dashboard.DailySeries) != 7 {
		t.Fatalf("daily series has %d buckets, want 7", len(dashboard.DailySeries))
	}

	today := time.Now().Format("2006-01-02")
	last := dashboard.DailySeries[len(dashboard.DailySeries)-1]
	if last.Date != today {
		t.Fatalf("last bucket is %s, want %s", last.Date, today)
	}
	if last.Views != 1 {
		t.Fatalf("today's views = %d, want 1", last.Views)
	}
	for _, point := range dashboard.DailySeries[:len(dashboard.DailySeries)-1] {
		if point.Views != 0 || point.Shares != 0 {
			t.Fatalf("expected zero-filled bucket, got %+v", point)
		}
	}
}

func TestDashboardScopedToOwner(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-own1", SourceURL: "https://example.com/o1", OwnerID: strPtr("u1")})
	seedReport(t, gdb, &db.Report{ID: "rec-own2", SourceURL: "https://example.com/o2", OwnerID: strPtr("u2")})

	svc.TrackView(ViewData{ReportID: "rec-own1"}, false)
	svc.TrackView(ViewData{ReportID: "rec-own2"}, false)
	svc.TrackView(ViewData{ReportID: "rec-own2"}, false)

	dashboard, err := svc.GetDashboardData("u1", 7)
	if err != nil {
		t.Fatalf("GetDashboardData returned error: %v", err)
	}
	if dashboard.TotalReports != 1 {
		t.Fatalf("owner reports = %d, want 1", dashboard.TotalReports)
	}
	if dashboard.TotalViews != 1 {
		t.Fatalf("owner views = %d, want 1", dashboard.TotalViews)
	}
}

func TestMethodSuccessRates(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)
	seedReport(t, gdb, &db.Report{ID: "rec-rates", SourceURL: "https://example.com/mr"})

	svc.TrackShareEvent(ShareData{ReportID: "rec-rates", Method: "native", Success: true})
	svc.TrackShareEvent(ShareData{ReportID: "rec-rates", Method: "native", Success: false})
	svc.TrackShareEvent(ShareData{ReportID: "rec-rates", Method: "copy", Success: true})

	dashboard, err := svc.GetDashboardData("", 7)
	if err != nil {
		t.Fatalf("GetDashboardData returned error: %v", err)
	}
	if rate := dashboard.MethodSuccessRates["native"]; rate != 50 {
		t.Fatalf("native success rate = %v, want 50", rate)
	}
	if rate := dashboard.MethodSuccessRates["copy"]; rate != 100 {
		t.Fatalf("copy success rate = %v, want 100", rate)
	}
}

func TestConversionFunnelNonIncreasing(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb)

	// 三份报告：一份被看且被分享，一份只被看，一份无人问津。
	seedReport(t, gdb, &db.Report{ID: "rec-f1", SourceURL: "https://example.com/f1"})
	seedReport(t, gdb, &db.Report{ID: "rec-f2", SourceURL: "https://example.com/f2"})
	seedReport(t, gdb, &db.Report{ID: "rec-f3", SourceURL: "https://example.com/f3"})

	svc.TrackView(ViewData{ReportID: "rec-f1"}, false)
	svc.TrackView(ViewData{ReportID: "rec-f1"}, false)
	svc.TrackView(ViewData{ReportID: "rec-f2"}, false)
	svc.TrackShareEvent(ShareData{ReportID: "rec-f1", Method: "copy", Success: true})

	funnel, err := svc.GetConversionFunnel("", 7)
	if err != nil {
		t.Fatalf("GetConversionFunnel returned error: %v", err)
	}

	if funnel.Created != 3 || funnel.Viewed != 2 || funnel.Shared != 1 {
		t.Fatalf("funnel = %+v, want 3/2/1", funnel)
	}
	if funnel.Created < funnel.Viewed || funnel.Viewed < funnel.Shared {
		t.Fatalf("funnel steps increased: %+v", funnel)
	}
	if funnel.ViewedPct < funnel.SharedPct {
		t.Fatalf("funnel percentages inverted: %+v", funnel)
	}
}

func TestCleanupOldData(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newAnalyticsService(t, gdb).WithRetention(30)
	seedReport(t, gdb, &db.Report{ID: "rec-old", SourceURL: "https://example.com/old"})

	old := time.Now().AddDate(0, 0, -60)
	if err := gdb.Create(&db.ReportView{ReportID: "rec-old", CreatedAt: old}).Error; err != nil {
		t.Fatalf("failed to seed old view: %v", err)
	}
	if err := gdb.Create(&db.ShareEvent{ReportID: "rec-old", Method: "copy", CreatedAt: old}).Error; err != nil {
		t.Fatalf("failed to seed old share: %v", err)
	}
	svc.TrackView(ViewData{ReportID: "rec-old"}, false)

	views, shares, err := svc.CleanupOldData()
	if err != nil {
		t.Fatalf("CleanupOldData returned error: %v", err)
	}
	if views != 1 || shares != 1 {
		t.Fatalf("cleanup removed %d/%d rows, want 1/1", views, shares)
	}

	// 幂等：再跑一次不应再删。
	views, shares, err = svc.CleanupOldData()
	if err != nil {
		t.Fatalf("second CleanupOldData returned error: %v", err)
	}
	if views != 0 || shares != 0 {
		t.Fatalf("second cleanup removed %d/%d rows, want 0/0", views, shares)
	}

	var remaining int64
	gdb.Model(&db.ReportView{}).Count(&remaining)
	if remaining != 1 {
		t.Fatalf("recent view should survive cleanup, count = %d", remaining)
	}
}
