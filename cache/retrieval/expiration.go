package retrieval

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var maxAgeRegex = regexp.MustCompile(`(?i)max-age\s*=\s*(\d+)`)

// ExpirationFromHeaders derives an absolute expiration time (epoch
// milliseconds) from response headers. Cache-Control max-age takes
// precedence over Expires; if both Expires and Date are present (and
// there is no max-age), expiration is computed as now + (Expires -
// Date) to tolerate clock skew between the client and server. Returns 0
// (no expiration) if neither header yields a usable value.
//
// now is passed in, rather than read from time.Now(), so the rule is a
// pure function of its inputs and independently testable.
func ExpirationFromHeaders(h http.Header, now time.Time) int64 {
	if m := maxAgeRegex.FindStringSubmatch(h.Get("Cache-Control")); m != nil {
		seconds, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil && seconds >= 0 {
			return toEpochMillis(now.Add(time.Duration(seconds) * time.Second))
		}
	}

	expiresStr := strings.TrimSpace(h.Get("Expires"))
	if expiresStr == "" {
		return 0
	}
	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return 0
	}

	dateStr := strings.TrimSpace(h.Get("Date"))
	if dateStr != "" {
		if date, err := http.ParseTime(dateStr); err == nil {
			return toEpochMillis(now.Add(expires.Sub(date)))
		}
	}

	return toEpochMillis(expires)
}

func toEpochMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
