package tools

// Config bounds every adapter's resource limits.
type Config struct {
	MaxFileBytes        int
	SearchMaxResults    int
	SearchMaxFileBytes  int64
	WebSearchMaxResults int
	WebFetchTimeoutMs   int
	WebBrowseMaxChars   int
	MCPCallTimeoutMs    int
}

// DefaultConfig is the limit set the orchestrator hands every adapter.
func DefaultConfig() Config {
	return Config{
		MaxFileBytes:        200_000,
		SearchMaxResults:    50,
		SearchMaxFileBytes:  2 * 1024 * 1024,
		WebSearchMaxResults: 20,
		WebFetchTimeoutMs:   15_000,
		WebBrowseMaxChars:   8_000,
		MCPCallTimeoutMs:    25_000,
	}
}
