package db

import "time"

// ShareEvent 记录一次分享动作，只追加不更新。
// IP 在写入前已经过匿名化处理，原始地址不落库。
type ShareEvent struct {
	ID           uint      `gorm:"primaryKey"`
	ReportID     string    `gorm:"size:36;not null;index"`
	Method       string    `gorm:"size:32;not null;index"`
	Success      bool      `gorm:"default:false"`
	UserAgent    *string   `gorm:"type:text"`
	Referrer     *string   `gorm:"type:text"`
	AnonymizedIP *string   `gorm:"size:64"`
	CreatedAt    time.Time `gorm:"index"`
}

// TableName 指定自定义表名。
func (ShareEvent) TableName() string {
	return "share_events"
}
