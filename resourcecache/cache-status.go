package resourcecache

import (
	"net/http"
	"strings"
	"time"
)

// Freshness headers set by the server.
const (
	CacheAgeHeader             = "X-Pp-Cache-Age"
	CacheDurationMinutesHeader = "X-Pp-Cache-Duration-Minutes"
	CacheSourceHeader          = "X-Pp-Cache-Source"
)

// UnparseableDuration is the DurationMinutes value for a duration header
// that is present but not a number.
const UnparseableDuration = -1

// CacheStatus is the freshness metadata of a cached resource.
// A nil field means the header was absent.
type CacheStatus struct {
	// Time at which the server produced the cached value.
	Age *time.Time `json:"age"`
	// Where the server got the value from.
	Source *string `json:"source"`
	// Minutes the value stays fresh after Age, or UnparseableDuration.
	DurationMinutes *int `json:"durationMinutes"`
}

// parseCacheStatus reads the freshness headers of a response.
func parseCacheStatus(header http.Header) CacheStatus {
	var status CacheStatus
	if values, ok := header[http.CanonicalHeaderKey(CacheAgeHeader)]; ok && len(values) > 0 {
		status.Age = parseAge(values[0])
	}
	if values, ok := header[http.CanonicalHeaderKey(CacheDurationMinutesHeader)]; ok && len(values) > 0 {
		minutes := parseMinutes(values[0])
		status.DurationMinutes = &minutes
	}
	if values, ok := header[http.CanonicalHeaderKey(CacheSourceHeader)]; ok && len(values) > 0 {
		source := values[0]
		status.Source = &source
	}
	return status
}

var ageLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
}

// parseAge accepts RFC 3339 timestamps (optionally without zone, read as UTC)
// and HTTP dates. It returns nil for anything else.
func parseAge(value string) *time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range ageLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	if t, err := http.ParseTime(value); err == nil {
		return &t
	}
	return nil
}

// parseMinutes reads the leading integer of value, ignoring surrounding
// whitespace and anything after the digits. A value without leading digits
// is UnparseableDuration.
func parseMinutes(value string) int {
	value = strings.TrimSpace(value)
	sign := 1
	if value != "" && (value[0] == '-' || value[0] == '+') {
		if value[0] == '-' {
			sign = -1
		}
		value = value[1:]
	}
	digits := 0
	minutes := 0
	for ; digits < len(value) && value[digits] >= '0' && value[digits] <= '9'; digits++ {
		minutes = minutes*10 + int(value[digits]-'0')
		if minutes > 1<<31 {
			return UnparseableDuration
		}
	}
	if digits == 0 {
		return UnparseableDuration
	}
	return sign * minutes
}

// Expires returns the time at which the value stops being fresh.
// It returns false if the freshness is unknown.
func (s CacheStatus) Expires() (time.Time, bool) {
	if s.Age == nil || s.DurationMinutes == nil || *s.DurationMinutes < 0 {
		return time.Time{}, false
	}
	return s.Age.Add(time.Duration(*s.DurationMinutes) * time.Minute), true
}

// IsStale reports whether the value is no longer fresh at now.
// Values of unknown freshness are stale.
func (s CacheStatus) IsStale(now time.Time) bool {
	expires, ok := s.Expires()
	return !ok || !now.Before(expires)
}
