package directory

import "strings"

// NewDirectory creates a redis-backed directory when configured, otherwise
// in-memory.
func NewDirectory(redisAddr string) Directory {
	if strings.TrimSpace(redisAddr) == "" {
		return NewInMemoryDirectory()
	}
	return NewRedisDirectory(redisAddr)
}
