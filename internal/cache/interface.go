package cache

import (
	"time"
)

// Cache stores values for a limited time
type Cache interface {
	// Get retrieves a value that has not expired
	Get(key string) (interface{}, bool)

	// Set stores a value; a zero ttl uses the configured default
	Set(key string, value interface{}, ttl time.Duration)

	Delete(key string)

	Clear()

	Size() int

	Stats() Stats
}

// Stats counts cache activity
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	HitRatio  float64 `json:"hit_ratio"`
}

// Config holds cache configuration
type Config struct {
	// MaxItems bounds the number of entries; the oldest is evicted first
	MaxItems int `json:"max_items"`

	// DefaultTTL applies when Set is called with a zero ttl
	DefaultTTL time.Duration `json:"default_ttl"`
}

// DefaultConfig returns a reasonable default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxItems:   256,
		DefaultTTL: 1 * time.Hour,
	}
}
