package cache

import (
	"strconv"
	"time"
)

// Cache TTLs. List-shaped entries stay short so that missed invalidations
// age out quickly.
const (
	ReportTTL    = 15 * time.Minute
	ListTTL      = 5 * time.Minute
	AnalyticsTTL = 10 * time.Minute
	DashboardTTL = 5 * time.Minute
)

// Key builders. Keeping every key format in one place makes the
// invalidation lists in the services auditable.

func ReportKey(slug string) string {
	return "report:" + slug
}

func RecentReportsKey() string {
	return "recentReports"
}

func ShareAnalyticsKey(reportID string) string {
	return "shareAnalytics:" + reportID
}

func UserReportsKey(ownerID string) string {
	return "userReports:" + ownerID
}

func UserReportsPattern() string {
	return "userReports:"
}

func ReportStatsKey(reportID string) string {
	return "reportStats:" + reportID
}

func ReportStatsPattern() string {
	return "reportStats:"
}

func EngagementKey(reportID string) string {
	return "engagement:" + reportID
}

func DashboardKey(ownerID string, days int) string {
	if ownerID == "" {
		ownerID = "all"
	}
	return "dashboard:" + ownerID + ":" + strconv.Itoa(days)
}

func FunnelKey(ownerID string, days int) string {
	if ownerID == "" {
		ownerID = "all"
	}
	return "funnel:" + ownerID + ":" + strconv.Itoa(days)
}

func TrendingKey(days int) string {
	return "trending:" + strconv.Itoa(days)
}
