package service

import (
	"context"
	"testing"

	"github.com/scanshare/internal/cache"
	"github.com/scanshare/internal/db"
	"gorm.io/gorm"
)

func newCacheStore(t *testing.T) *cache.BadgerStore {
	t.Helper()
	store, err := cache.NewBadgerStore(cache.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open cache store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newCachedService(t *testing.T, gdb *gorm.DB) (*CachedReportService, *cache.BadgerStore) {
	t.Helper()
	store := newCacheStore(t)
	base := NewReportService(gdb, &recorderEmitter{}, testLogger())
	return NewCachedReportService(base, store, testLogger()), store
}

func TestCachedReadServesFromCache(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc, _ := newCachedService(t, gdb)

	seedReport(t, gdb, &db.Report{
		ID:            "rec-cached",
		SourceURL:     "https://example.com/cached",
		Slug:          strPtr("example-com-cached-abc101"),
		IsPublic:      true,
		SecurityScore: 90,
	})

	first, err := svc.GetReportBySlug("example-com-cached-abc101", "")
	if err != nil || first == nil {
		t.Fatalf("first read failed: (%v, %v)", first, err)
	}

	// 绕过服务直接改库；缓存命中时应返回旧快照。
	if err := gdb.Model(&db.Report{}).Where("id = ?", "rec-cached").
		Update("security_score", 10).Error; err != nil {
		t.Fatalf("failed to update score: %v", err)
	}

	second, err := svc.GetReportBySlug("example-com-cached-abc101", "")
	if err != nil || second == nil {
		t.Fatalf("second read failed: (%v, %v)", second, err)
	}
	if second.SecurityScore != 90 {
		t.Fatalf("expected cached snapshot score 90, got %d", second.SecurityScore)
	}
}

func TestCacheHitStillChecksAccess(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc, _ := newCachedService(t, gdb)

	seedReport(t, gdb, &db.Report{
		ID:        "rec-priv-cache",
		SourceURL: "https://example.com/priv",
		Slug:      strPtr("example-com-priv-abc102"),
		IsPublic:  false,
		OwnerID:   strPtr("u1"),
	})

	// 属主读取后私有快照进入缓存。
	if report, err := svc.GetReportBySlug("example-com-priv-abc102", "u1"); err != nil || report == nil {
		t.Fatalf("owner read failed: (%v, %v)", report, err)
	}

	// 即使命中缓存，非属主也拿不到。
	report, err := svc.GetReportBySlug("example-com-priv-abc102", "u2")
	if err != nil {
		t.Fatalf("stranger read returned error: %v", err)
	}
	if report != nil {
		t.Fatal("cache hit leaked a private report")
	}

	if report, err := svc.GetPublicReportBySlug("example-com-priv-abc102"); err != nil || report != nil {
		t.Fatalf("public read of private snapshot should be nil, got (%v, %v)", report, err)
	}
}

func TestAnonymousReadOfPrivateReportNotCached(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc, store := newCachedService(t, gdb)

	seedReport(t, gdb, &db.Report{
		ID:        "rec-nocache",
		SourceURL: "https://example.com/nc",
		Slug:      strPtr("example-com-nc-abc103"),
		IsPublic:  false,
		OwnerID:   strPtr("u1"),
	})

	if report, _ := svc.GetReportBySlug("example-com-nc-abc103", ""); report != nil {
		t.Fatal("anonymous caller should not read private report")
	}

	if _, hit, _ := store.Get(context.Background(), cache.ReportKey("example-com-nc-abc103")); hit {
		t.Fatal("denied read should not populate the cache")
	}
}

func TestUpdatePrivacyInvalidatesCache(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc, _ := newCachedService(t, gdb)

	seedReport(t, gdb, &db.Report{
		ID:        "rec-inv",
		SourceURL: "https://example.com/inv",
		Slug:      strPtr("example-com-inv-abc104"),
		IsPublic:  true,
		OwnerID:   strPtr("u1"),
	})

	if report, _ := svc.GetReportBySlug("example-com-inv-abc104", ""); report == nil {
		t.Fatal("warm-up read failed")
	}

	if _, err := svc.UpdatePrivacy("rec-inv", false, "u1"); err != nil {
		t.Fatalf("UpdatePrivacy returned error: %v", err)
	}

	// 失效后匿名读取必须看到私有状态。
	if report, _ := svc.GetReportBySlug("example-com-inv-abc104", ""); report != nil {
		t.Fatal("stale public snapshot survived privacy change")
	}
}

func TestDeleteInvalidatesOldSlugKey(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc, store := newCachedService(t, gdb)

	seedReport(t, gdb, &db.Report{
		ID:        "rec-del-inv",
		SourceURL: "https://example.com/del",
		Slug:      strPtr("example-com-del-abc105"),
		IsPublic:  true,
		OwnerID:   strPtr("u1"),
	})

	if report, _ := svc.GetReportBySlug("example-com-del-abc105", ""); report == nil {
		t.Fatal("warm-up read failed")
	}

	if err := svc.DeleteShareableReport("rec-del-inv", "u1"); err != nil {
		t.Fatalf("DeleteShareableReport returned error: %v", err)
	}

	if _, hit, _ := store.Get(context.Background(), cache.ReportKey("example-com-del-abc105")); hit {
		t.Fatal("old slug key survived delete")
	}
}

func TestRegenerateSlugInvalidatesBothKeys(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc, store := newCachedService(t, gdb)

	seedReport(t, gdb, &db.Report{
		ID:        "rec-regen",
		SourceURL: "https://example.com/articles/regen",
		Slug:      strPtr("stale-slug"),
		IsPublic:  true,
		OwnerID:   strPtr("u1"),
	})

	if report, _ := svc.GetReportBySlug("stale-slug", ""); report == nil {
		t.Fatal("warm-up read failed")
	}

	newSlug, err := svc.RegenerateSlug("rec-regen", "u1")
	if err != nil {
		t.Fatalf("RegenerateSlug returned error: %v", err)
	}

	if _, hit, _ := store.Get(context.Background(), cache.ReportKey("stale-slug")); hit {
		t.Fatal("old slug key survived regeneration")
	}

	report, err := svc.GetReportBySlug(newSlug, "")
	if err != nil || report == nil {
		t.Fatalf("read by new slug failed: (%v, %v)", report, err)
	}
}

func TestReportsByOwnerInvalidatedOnWrite(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc, _ := newCachedService(t, gdb)

	seedReport(t, gdb, &db.Report{ID: "rec-o1", SourceURL: "https://example.com/1", OwnerID: strPtr("u1")})

	reports, err := svc.ReportsByOwner("u1")
	if err != nil || len(reports) != 1 {
		t.Fatalf("ReportsByOwner = (%d, %v), want 1", len(reports), err)
	}

	if _, err := svc.CreateShareableReport("rec-o1", ShareOptions{IsPublic: true}); err != nil {
		t.Fatalf("CreateShareableReport returned error: %v", err)
	}

	reports, err = svc.ReportsByOwner("u1")
	if err != nil {
		t.Fatalf("ReportsByOwner returned error: %v", err)
	}
	if len(reports) != 1 || reports[0].Slug == nil {
		t.Fatal("owner list not refreshed after mutation")
	}
}

func TestWarmUpCache(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc, store := newCachedService(t, gdb)

	seedReport(t, gdb, &db.Report{
		ID:        "rec-w1",
		SourceURL: "https://example.com/w1",
		Slug:      strPtr("example-com-w1-abc106"),
		IsPublic:  true,
	})
	seedReport(t, gdb, &db.Report{
		ID:        "rec-w2",
		SourceURL: "https://example.com/w2",
		Slug:      strPtr("example-com-w2-abc107"),
		IsPublic:  false,
		OwnerID:   strPtr("u1"),
	})

	svc.WarmUpCache([]string{"example-com-w1-abc106", "example-com-w2-abc107", "missing"})

	if _, hit, _ := store.Get(context.Background(), cache.ReportKey("example-com-w1-abc106")); !hit {
		t.Fatal("public report not warmed up")
	}
	// 私有报告不进预热缓存。
	if _, hit, _ := store.Get(context.Background(), cache.ReportKey("example-com-w2-abc107")); hit {
		t.Fatal("private report must not be warmed up")
	}
}

func TestClearAllCaches(t *testing.T) {
	gdb, cleanup := setupTestDB(t)
	defer cleanup()

	svc, store := newCachedService(t, gdb)

	seedReport(t, gdb, &db.Report{
		ID:        "rec-clear",
		SourceURL: "https://example.com/clear",
		Slug:      strPtr("example-com-clear-abc108"),
		IsPublic:  true,
	})

	if report, _ := svc.GetReportBySlug("example-com-clear-abc108", ""); report == nil {
		t.Fatal("warm-up read failed")
	}
	svc.ClearAllCaches()

	if _, hit, _ := store.Get(context.Background(), cache.ReportKey("example-com-clear-abc108")); hit {
		t.Fatal("cache entry survived ClearAllCaches")
	}
}
