package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scanshare/internal/db"
	"github.com/scanshare/internal/realtime"
	"github.com/scanshare/internal/slug"
	"gorm.io/gorm"
)

var (
	ErrReportNotFound = errors.New("report not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrSlugConflict   = errors.New("slug conflicts with an existing report")
)

const displayURLLimit = 60

// ReportService 负责报告的可见性、归属校验以及 slug 生命周期。
// 缓存由外层的 CachedReportService 负责，这里只和数据库打交道。
type ReportService struct {
	db       *gorm.DB
	emitter  realtime.Emitter
	logger   *slog.Logger
	slugOpts slug.Options
}

// NewReportService 创建 ReportService。
func NewReportService(gdb *gorm.DB, emitter realtime.Emitter, logger *slog.Logger) *ReportService {
	if emitter == nil {
		emitter = realtime.NoopEmitter{}
	}
	return &ReportService{
		db:       gdb,
		emitter:  emitter,
		logger:   logger,
		slugOpts: slug.DefaultOptions(),
	}
}

// ShareOptions 描述开启分享时的可选自定义项。
type ShareOptions struct {
	IsPublic          bool
	CustomTitle       *string
	CustomDescription *string
}

// SlugExists 实现 slug.Checker，排除指定记录后检查 slug 是否被占用。
func (s *ReportService) SlugExists(candidate string, excludeID string) (bool, error) {
	var count int64
	query := s.db.Model(&db.Report{}).Where("slug = ?", candidate)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateShareableReport 为已有的分析记录生成 slug 并开启分享。
// 公开报告会向实时频道广播一条 newRecentReport 事件（尽力而为）。
func (s *ReportService) CreateShareableReport(recordID string, opts ShareOptions) (*db.Report, error) {
	report, err := s.findByID(recordID)
	if err != nil {
		return nil, err
	}

	generated, err := slug.Generate(report.SourceURL, report.ID, s.slugOpts, s)
	if err != nil {
		return nil, err
	}

	report.Slug = &generated
	report.IsPublic = opts.IsPublic
	if opts.CustomTitle != nil {
		report.CustomTitle = opts.CustomTitle
	}
	if opts.CustomDescription != nil {
		report.CustomDescription = opts.CustomDescription
	}

	if err := s.db.Save(report).Error; err != nil {
		if !isUniqueViolation(err) {
			return nil, err
		}
		// 并发的 make-shareable 撞上了唯一索引：重新生成一次再试。
		retried, genErr := slug.Generate(report.SourceURL, report.ID, s.slugOpts, s)
		if genErr != nil {
			return nil, genErr
		}
		report.Slug = &retried
		if err := s.db.Save(report).Error; err != nil {
			if isUniqueViolation(err) {
				return nil, ErrSlugConflict
			}
			return nil, err
		}
	}

	if report.IsPublic {
		s.emitter.Emit(realtime.EventNewRecentReport, s.buildPayload(report))
	}

	return report, nil
}

// GetReportBySlug 按 slug 读取报告并应用访问规则。
// 私有报告对非属主返回 nil——和 slug 不存在无法区分，避免泄露存在性。
func (s *ReportService) GetReportBySlug(slugValue string, callerID string) (*db.Report, error) {
	report, err := s.findBySlug(slugValue)
	if err != nil || report == nil {
		return nil, err
	}

	if !canRead(report, callerID) {
		return nil, nil
	}
	return report, nil
}

// GetPublicReportBySlug 只返回公开报告，不需要身份。
func (s *ReportService) GetPublicReportBySlug(slugValue string) (*db.Report, error) {
	report, err := s.findBySlug(slugValue)
	if err != nil || report == nil {
		return nil, err
	}
	if !report.IsPublic {
		return nil, nil
	}
	return report, nil
}

// UpdatePrivacy 切换公开/私有。转为公开时广播 updatedRecentReport。
func (s *ReportService) UpdatePrivacy(recordID string, isPublic bool, callerID string) (*db.Report, error) {
	report, err := s.findOwned(recordID, callerID)
	if err != nil {
		return nil, err
	}

	report.IsPublic = isPublic
	if err := s.db.Save(report).Error; err != nil {
		return nil, err
	}

	if report.IsPublic && report.Slug != nil {
		s.emitter.Emit(realtime.EventUpdatedRecentReport, s.buildPayload(report))
	}

	return report, nil
}

// DeleteShareableReport 关闭分享：清空 slug 并强制私有，记录本身保留。
func (s *ReportService) DeleteShareableReport(recordID string, callerID string) error {
	report, err := s.findOwned(recordID, callerID)
	if err != nil {
		return err
	}

	return s.db.Model(report).Updates(map[string]interface{}{
		"slug":      nil,
		"is_public": false,
	}).Error
}

// RegenerateSlug 基于当前 URL 重新生成 slug。
func (s *ReportService) RegenerateSlug(recordID string, callerID string) (string, error) {
	report, err := s.findOwned(recordID, callerID)
	if err != nil {
		return "", err
	}

	generated, err := slug.Generate(report.SourceURL, report.ID, s.slugOpts, s)
	if err != nil {
		return "", err
	}

	if err := s.db.Model(report).Update("slug", generated).Error; err != nil {
		if isUniqueViolation(err) {
			return "", ErrSlugConflict
		}
		return "", err
	}

	report.Slug = &generated
	return generated, nil
}

// UpdateOGImage 更新分享卡片图片地址。
func (s *ReportService) UpdateOGImage(recordID string, imageURL string, callerID string) (*db.Report, error) {
	report, err := s.findOwned(recordID, callerID)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(imageURL)
	if trimmed == "" {
		report.OGImageURL = nil
	} else {
		report.OGImageURL = &trimmed
	}

	if err := s.db.Save(report).Error; err != nil {
		return nil, err
	}
	return report, nil
}

// UpdateCustomization 更新分享标题与描述。传入 nil 表示保持原值。
func (s *ReportService) UpdateCustomization(recordID string, title, description *string, callerID string) (*db.Report, error) {
	report, err := s.findOwned(recordID, callerID)
	if err != nil {
		return nil, err
	}

	if title != nil {
		report.CustomTitle = title
	}
	if description != nil {
		report.CustomDescription = description
	}

	if err := s.db.Save(report).Error; err != nil {
		return nil, err
	}
	return report, nil
}

// ReportByID 按记录 id 读取报告，不做访问过滤。
// 供装饰器失效旧键以及聚合服务内部使用，不直接暴露给请求方。
func (s *ReportService) ReportByID(recordID string) (*db.Report, error) {
	return s.findByID(recordID)
}

// ValidateSlug 检查格式与唯一性，编辑场景可以排除自身记录。
func (s *ReportService) ValidateSlug(slugValue string, excludeID string) error {
	if err := slug.Validate(slugValue); err != nil {
		return err
	}
	taken, err := s.SlugExists(slugValue, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return ErrSlugConflict
	}
	return nil
}

// RecentPublicReports 返回最近开启分享的公开报告。
func (s *ReportService) RecentPublicReports(limit int) ([]db.Report, error) {
	if limit <= 0 {
		limit = 10
	}
	var reports []db.Report
	err := s.db.
		Where("is_public = ? AND slug IS NOT NULL", true).
		Order("updated_at DESC").
		Limit(limit).
		Find(&reports).Error
	return reports, err
}

// ReportsByOwner 返回属主的全部报告，最新在前。
func (s *ReportService) ReportsByOwner(ownerID string) ([]db.Report, error) {
	var reports []db.Report
	err := s.db.
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&reports).Error
	return reports, err
}

func (s *ReportService) findByID(recordID string) (*db.Report, error) {
	var report db.Report
	if err := s.db.Where("id = ?", recordID).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return &report, nil
}

func (s *ReportService) findBySlug(slugValue string) (*db.Report, error) {
	var report db.Report
	if err := s.db.Where("slug = ?", slugValue).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// findOwned 读取记录并做归属校验；callerID 为空时跳过校验（内部调用）。
func (s *ReportService) findOwned(recordID string, callerID string) (*db.Report, error) {
	report, err := s.findByID(recordID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && report.OwnerID != nil && *report.OwnerID != callerID {
		return nil, ErrAccessDenied
	}
	return report, nil
}

func canRead(report *db.Report, callerID string) bool {
	if report.IsPublic {
		return true
	}
	if report.OwnerID == nil {
		return false
	}
	return callerID != "" && *report.OwnerID == callerID
}

func (s *ReportService) buildPayload(report *db.Report) realtime.ReportPayload {
	slugValue := ""
	if report.Slug != nil {
		slugValue = *report.Slug
	}
	return realtime.ReportPayload{
		Slug:          slugValue,
		DisplayURL:    truncateDisplayURL(report.SourceURL),
		Domain:        displayDomain(report.SourceURL),
		SecurityScore: report.SecurityScore,
		ScoreColor:    scoreColor(report.SecurityScore),
		TimeAgo:       timeAgo(report.UpdatedAt, time.Now()),
		HasAI:         report.HasAIAnalysis,
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scoreColor(score int) string {
	switch {
	case score >= 80:
		return "green"
	case score >= 50:
		return "yellow"
	default:
		return "red"
	}
}

func displayDomain(sourceURL string) string {
	trimmed := sourceURL
	for _, prefix := range []string{"https://", "http://"} {
		trimmed = strings.TrimPrefix(trimmed, prefix)
	}
	trimmed = strings.TrimPrefix(trimmed, "www.")
	if idx := strings.IndexAny(trimmed, "/?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

func truncateDisplayURL(sourceURL string) string {
	if utf8.RuneCountInString(sourceURL) <= displayURLLimit {
		return sourceURL
	}
	runes := []rune(sourceURL)
	return string(runes[:displayURLLimit]) + "…"
}

func timeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
