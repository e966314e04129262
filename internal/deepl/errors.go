package deepl

import "fmt"

// statusMessages centralizes the mapping from DeepL HTTP status codes to
// user-facing diagnostics. The retry layer keys its retryability decision
// off APIError.StatusCode, so every classified failure must carry one.
var statusMessages = map[int]string{
	400: "invalid request",
	403: "invalid API credential",
	413: "request payload too large",
	414: "request URL too long",
	429: "rate limited, too many requests",
	456: "translation quota exhausted",
	500: "provider-side outage",
	504: "provider-side outage",
	529: "rate limited, too many requests",
}

// APIError is a non-2xx response from the translation provider.
type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	if msg, ok := statusMessages[e.StatusCode]; ok {
		return fmt.Sprintf("deepl: %s (status %d)", msg, e.StatusCode)
	}
	return fmt.Sprintf("deepl: request failed (status %d)", e.StatusCode)
}
