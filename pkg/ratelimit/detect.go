package ratelimit

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Detection is the result of scanning agent output for rate-limit
// indications.
type Detection struct {
	Detected bool
	// ResetAt is non-nil when the output stated a retry time.
	ResetAt *time.Time
	Reason  string
}

// indicatorPatterns match output that signals a rate limit. All matching
// is case-insensitive.
var indicatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rate[_ -]?limit`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)\b429\b`),
	regexp.MustCompile(`(?i)quota exceeded`),
	regexp.MustCompile(`(?i)throttled`),
}

// durationUnit matches a count with a time unit.
const durationUnit = `(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h)\b`

// relativeResetPatterns extract "retry in N units" style reset hints.
var relativeResetPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)try again in ` + durationUnit),
	regexp.MustCompile(`(?i)retry after ` + durationUnit),
	regexp.MustCompile(`(?i)wait ` + durationUnit),
	regexp.MustCompile(`(?i)resets in ` + durationUnit),
}

// absoluteResetPattern extracts an ISO-ish "resets at" timestamp,
// seconds optional.
var absoluteResetPattern = regexp.MustCompile(
	`(?i)resets at (\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(?::\d{2})?)`)

// DetectFromOutput scans terminal output for rate-limit indications and,
// when found, tries to recover the reset time from the surrounding text.
func (t *Tracker) DetectFromOutput(text string) Detection {
	var reason string
	for _, pattern := range indicatorPatterns {
		if match := pattern.FindString(text); match != "" {
			reason = match
			break
		}
	}
	if reason == "" {
		return Detection{}
	}

	detection := Detection{Detected: true, Reason: reason}
	now := t.now()

	for _, pattern := range relativeResetPatterns {
		if groups := pattern.FindStringSubmatch(text); groups != nil {
			if d, ok := parseDuration(groups[1], groups[2]); ok {
				resetAt := now.Add(d)
				detection.ResetAt = &resetAt
				return detection
			}
		}
	}

	if groups := absoluteResetPattern.FindStringSubmatch(text); groups != nil {
		layout := "2006-01-02T15:04:05"
		if len(groups[1]) == len("2006-01-02T15:04") {
			layout = "2006-01-02T15:04"
		}
		if resetAt, err := time.ParseInLocation(layout, groups[1], time.Local); err == nil {
			detection.ResetAt = &resetAt
		}
	}
	return detection
}

// DetectRapidExit reports whether a process lifetime was suspiciously
// short: an unexplained exit under the threshold is treated as a probable
// rate limit by the caller.
func (t *Tracker) DetectRapidExit(start, end time.Time) bool {
	lifetime := end.Sub(start)
	return lifetime >= 0 && lifetime < t.rapidExitThreshold
}

func parseDuration(count, unit string) (time.Duration, bool) {
	n, err := strconv.Atoi(count)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(unit)[0] {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	}
	return 0, false
}
