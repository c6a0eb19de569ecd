// Package market resolves the recurring up/down window markets the engine
// trades: pure window arithmetic plus the Gamma API lookup that turns a
// window timestamp into tradable token ids.
package market

import (
	"fmt"
	"strings"
)

// Schedule derives window timestamps for one timeframe stream. Window ids are
// unix timestamps offset from Anchor by exact multiples of Period; the venue
// lists one market per window under a timestamp-based slug. A window's
// timestamp is when its live period starts; it trades until ts+Period and
// resolves after that.
type Schedule struct {
	Asset  string // slug prefix, e.g. "BTC" -> "btc-updown-..."
	Label  string // "5m", "15m"
	Anchor int64
	Period int64
}

// NewSchedule returns a schedule for the given stream parameters.
func NewSchedule(asset, label string, anchor, period int64) Schedule {
	return Schedule{Asset: asset, Label: label, Anchor: anchor, Period: period}
}

// Windows returns the three windows of interest at the given time: the one
// currently running, the next one to open, and the one after that. The middle
// value is the first multiple of Period (offset from Anchor) at or after now.
// If now precedes the anchor no advancing happens and the middle value is the
// anchor itself, possibly far in the future; callers tolerate windows that
// have not started yet.
func (s Schedule) Windows(now int64) [3]int64 {
	ts := s.Anchor
	for ts < now {
		ts += s.Period
	}
	return [3]int64{ts - s.Period, ts, ts + s.Period}
}

// Slug returns the venue slug for a window timestamp,
// e.g. btc-updown-15m-1771268400.
func (s Schedule) Slug(ts int64) string {
	return fmt.Sprintf("%s-updown-%s-%d", strings.ToLower(s.Asset), s.Label, ts)
}

// Recent returns window timestamps from lookbackSeconds ago whose live period
// already ended, oldest first. The running window is excluded; the control
// loop still manages it. Used by the startup scan to find markets that may
// still hold unredeemed positions.
func (s Schedule) Recent(now, lookbackSeconds int64) []int64 {
	ts := s.Anchor
	for ts < now-lookbackSeconds {
		ts += s.Period
	}
	var out []int64
	for ts+s.Period <= now {
		out = append(out, ts)
		ts += s.Period
	}
	return out
}
