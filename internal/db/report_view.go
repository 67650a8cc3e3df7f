package db

import "time"

// ReportView 记录一次报告浏览，只追加不更新。
type ReportView struct {
	ID           uint      `gorm:"primaryKey"`
	ReportID     string    `gorm:"size:36;not null;index"`
	AnonymizedIP *string   `gorm:"size:64"`
	UserAgent    *string   `gorm:"type:text"`
	Referrer     *string   `gorm:"type:text"`
	Country      *string   `gorm:"size:8"`
	CreatedAt    time.Time `gorm:"index"`
}

// TableName 指定自定义表名。
func (ReportView) TableName() string {
	return "report_views"
}
