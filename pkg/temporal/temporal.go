// Package temporal provides the time math shared by ingestion and retrieval.
//
// Three concerns live here:
//   - Recency scoring: how "fresh" a memory is, on a fixed decay curve
//   - Event-time stamps: the canonical "YYYY-MM-DD-HH-MM" format carried by
//     event nodes
//   - Human-readable deltas: "3小时前", "2天前" strings for formatted output
//
// The recency curve is deliberately simple and fully deterministic:
//
//	score
//	1.0 ┤────────┐
//	    │         \
//	    │          \
//	0.1 ┤           └──────────────
//	    └────┬────────┬───────────→ age
//	        7d       30d
//
// Memories younger than a week score 1.0, then decay linearly to the 0.1
// floor at 30 days, and stay there. Retrieval weighs this at 20% of the
// final rank, so even ancient memories remain reachable when they match
// strongly.
package temporal

import (
	"fmt"
	"strings"
	"time"
)

// EventTimeLayout is the canonical event-time format carried by event nodes.
const EventTimeLayout = "2006-01-02-15-04"

const (
	oneWeekSecs    = 7 * 24 * 60 * 60
	thirtyDaysSecs = 30 * 24 * 60 * 60

	// recencyFloor is the score assigned past the decay window. Non-zero so
	// old memories are dampened, never erased.
	recencyFloor = 0.1
)

// unknownTime is the placeholder for stamps that fail to parse.
const unknownTime = "未知时间"

// Recency scores how fresh a unix-seconds timestamp is, in [0.1, 1.0].
//
// Example:
//
//	temporal.Recency(time.Now().Unix())                    // 1.0
//	temporal.Recency(time.Now().Unix() - 60*24*60*60)      // 0.1 (60 days)
func Recency(timestamp int64) float32 {
	return RecencyAt(timestamp, time.Now().Unix())
}

// RecencyAt is Recency evaluated against an explicit "now", for
// deterministic scoring and tests.
func RecencyAt(timestamp, now int64) float32 {
	diff := now - timestamp
	if diff < 0 {
		diff = 0
	}

	switch {
	case diff <= oneWeekSecs:
		return 1.0
	case diff <= thirtyDaysSecs:
		decayRange := float32(thirtyDaysSecs - oneWeekSecs)
		progress := float32(diff-oneWeekSecs) / decayRange
		return 1.0 - (1.0-recencyFloor)*progress
	default:
		return recencyFloor
	}
}

// NowEventTime returns the current UTC time as a canonical event-time stamp.
func NowEventTime() string {
	return time.Now().UTC().Format(EventTimeLayout)
}

// FormatEventTime converts a unix-seconds timestamp into the canonical
// event-time stamp (UTC).
func FormatEventTime(timestamp int64) string {
	return time.Unix(timestamp, 0).UTC().Format(EventTimeLayout)
}

// ParseEventTime parses a canonical "YYYY-MM-DD-HH-MM" stamp (UTC).
func ParseEventTime(eventTime string) (time.Time, error) {
	t, err := time.ParseInLocation(EventTimeLayout, eventTime, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid event time %q: %w", eventTime, err)
	}
	return t, nil
}

// FormatDate extracts the "YYYY-MM-DD" date part from an event-time stamp.
// Malformed stamps yield "未知日期".
func FormatDate(eventTime string) string {
	parts := strings.Split(eventTime, "-")
	if len(parts) < 3 {
		return "未知日期"
	}
	return strings.Join(parts[:3], "-")
}

// TimeAgo renders a human-readable delta between an event-time stamp and
// now: "刚刚", "5分钟前", "3小时前", "2天前", "1周前", "2个月前".
// Unparseable stamps yield "未知时间"; future stamps yield "刚刚".
func TimeAgo(eventTime string) string {
	return TimeAgoAt(eventTime, time.Now().UTC())
}

// TimeAgoAt is TimeAgo against an explicit reference time, for tests.
func TimeAgoAt(eventTime string, now time.Time) string {
	t, err := ParseEventTime(eventTime)
	if err != nil {
		return unknownTime
	}

	diff := now.Sub(t)
	if diff < 0 {
		return "刚刚"
	}

	minutes := int64(diff.Minutes())
	hours := int64(diff.Hours())
	days := hours / 24
	weeks := days / 7
	months := days / 30

	switch {
	case minutes < 1:
		return "刚刚"
	case minutes < 60:
		return fmt.Sprintf("%d分钟前", minutes)
	case hours < 24:
		return fmt.Sprintf("%d小时前", hours)
	case days < 7:
		return fmt.Sprintf("%d天前", days)
	case weeks < 4:
		return fmt.Sprintf("%d周前", weeks)
	default:
		return fmt.Sprintf("%d个月前", months)
	}
}
