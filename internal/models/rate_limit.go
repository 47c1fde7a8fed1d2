package models

import "gorm.io/gorm"

// RateLimitBucket counts order attempts within one wall-clock minute.
// Buckets are created lazily and never reused across minutes; stale
// rows are cleaned up in the background as storage hygiene.
type RateLimitBucket struct {
	gorm.Model
	MinuteTimestamp int64 `gorm:"uniqueIndex;not null" json:"minute_timestamp"` // unix seconds, truncated to the minute
	RequestCount    int   `gorm:"not null" json:"request_count"`
}
