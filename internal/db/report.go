package db

import "time"

// Report 定义了可分享的安全分析报告模型。
// Slug 为空表示报告尚未开启分享；uniqueIndex 是并发生成 slug 时的最终防线。
type Report struct {
	ID                string  `gorm:"primaryKey;size:36"`
	SourceURL         string  `gorm:"not null"`
	SecurityScore     int     `gorm:"default:0"`
	Slug              *string `gorm:"size:100;uniqueIndex"`
	IsPublic          bool    `gorm:"default:false;index"`
	OwnerID           *string `gorm:"size:36;index"`
	CustomTitle       *string `gorm:"size:200"`
	CustomDescription *string
	OGImageURL        *string
	ShareCount        int  `gorm:"default:0"`
	HasAIAnalysis     bool `gorm:"default:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TableName 指定自定义表名，避免自动复数化导致的歧义。
func (Report) TableName() string {
	return "reports"
}
