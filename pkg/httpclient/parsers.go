package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseOpenAIHeaders extracts rate limit info from OpenAI-compatible API
// headers. Reset headers arrive as durations ("1s", "6m0s").
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			info.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	resetHeaders := []string{
		"x-ratelimit-reset-tokens",
		"x-ratelimit-reset-requests",
	}
	for _, header := range resetHeaders {
		resetStr := headers.Get(header)
		if resetStr == "" {
			continue
		}
		if d, err := time.ParseDuration(resetStr); err == nil && d > 0 {
			info.ResetTime = time.Now().Add(d).Unix()
			break
		}
	}

	return info
}
