package models

import (
	"time"
)

// CacheEntry is a rate limit counter or cached value kept in the SQL database when redis is not configured.
type CacheEntry struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:191"`
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
