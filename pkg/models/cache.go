package models

// CacheStats reports response cache performance.
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}
