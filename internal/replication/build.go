package replication

import (
	"fmt"
	"strings"
	"time"

	"clinicflow/internal/blob"
)

// Config selects the publishers and their limits.
type Config struct {
	Drivers       []string
	HTTPURL       string
	RedisAddr     string
	RedisStream   string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// Publishers instantiates the configured drivers. archive is required only
// when the blob driver is selected. Unknown or duplicate drivers are errors.
func (c Config) Publishers(archive blob.Store) ([]Publisher, error) {
	var out []Publisher
	seen := make(map[string]bool)
	for _, raw := range c.Drivers {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || name == "none" {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("sync driver %s listed twice", name)
		}
		seen[name] = true
		switch name {
		case "http":
			if c.HTTPURL == "" {
				return nil, fmt.Errorf("sync driver http requires a remote url")
			}
			out = append(out, NewHTTPPublisher(c.HTTPURL))
		case "redis":
			if c.RedisAddr == "" {
				return nil, fmt.Errorf("sync driver redis requires an address")
			}
			out = append(out, NewRedisPublisher(c.RedisAddr, c.RedisStream))
		case "blob":
			if archive == nil {
				return nil, fmt.Errorf("sync driver blob requires an archive store")
			}
			out = append(out, NewBlobPublisher(archive))
		default:
			return nil, fmt.Errorf("unknown sync driver %s", name)
		}
	}
	return out, nil
}

// Options converts the limits into adapter options.
func (c Config) Options() []Option {
	return []Option{WithRateLimit(c.RatePerSecond, c.Burst), WithTimeout(c.Timeout)}
}

// ParseDrivers splits a comma separated driver list.
func ParseDrivers(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
