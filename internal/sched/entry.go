package sched

import (
	"strings"
	"time"
)

// Field ranges, matching the constants sched.h pulls in from
// core/utils.h (SEC_PER_MIN, MIN_PER_HOUR, HOUR_PER_DAY, DAY_PER_WEEK,
// DAY_PER_MONTH) plus SCHEDULE_MINUTE_PARTS.
const (
	minutePartCount = 4
	minPerHour      = 60
	hourPerDay      = 24
	dayPerWeek      = 7
	dayPerMonth     = 31
)

// TSEntry is the parsed form of a schedule string: the five field
// masks from tsentry_t. The multicast-signal mask is not parsed from
// the schedule string (a leading @ field counts as a sixth field and is
// rejected); Store keeps it per entry instead, as EntryAdd's mcastMask.
type TSEntry struct {
	MinPart *FieldMask
	Minute  *FieldMask
	Hour    *FieldMask
	Dom     *FieldMask
	Dow     *FieldMask
}

// ParseTSEntry parses a whitespace-separated 5-field schedule string:
// minute-quarter minute hour day-of-month day-of-week, the same field
// order parse_tsentry feeds into parse_tsmask (minpart, minute, hour,
// dom, dow).
func ParseTSEntry(s string) (*TSEntry, error) {
	fields := strings.Fields(s)
	if len(fields) != 5 {
		return nil, ErrParseError
	}
	minpart, err := ParseFieldMask(fields[0], 0, minutePartCount-1)
	if err != nil {
		return nil, err
	}
	minute, err := ParseFieldMask(fields[1], 0, minPerHour-1)
	if err != nil {
		return nil, err
	}
	hour, err := ParseFieldMask(fields[2], 0, hourPerDay-1)
	if err != nil {
		return nil, err
	}
	dom, err := ParseFieldMask(fields[3], 1, dayPerMonth)
	if err != nil {
		return nil, err
	}
	dow, err := ParseFieldMask(fields[4], 0, dayPerWeek-1)
	if err != nil {
		return nil, err
	}
	return &TSEntry{MinPart: minpart, Minute: minute, Hour: hour, Dom: dom, Dow: dow}, nil
}

// NextFireTime returns the earliest instant strictly after now that
// satisfies every field of e, scanning forward day by day, then hour,
// minute and quarter-minute within the first matching day.
//
// This replaces entry_set_next_time's single forward walk through a
// mutable struct tm (stepping minpart, then minute, then hour, then
// patching day-of-month/day-of-week together with a MIN()-of-two-
// deltas rule that only resolves correctly because tm_wday/tm_mday
// are never allowed to exceed their original value in the same branch
// where the comparison runs backwards) with a structurally simpler
// day/hour/minute/quarter nested scan: a day matches when its
// day-of-month OR its day-of-week is in its mask. The OR applies even
// when one of the two fields is `*`, so a `*` in either field matches
// every day.
func NextFireTime(e *TSEntry, now time.Time) time.Time {
	const maxDays = 4 * 366
	start := now.Truncate(time.Second).Add(time.Second)
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())

	for d := 0; d <= maxDays; d++ {
		day := dayStart.AddDate(0, 0, d)
		if !e.Dom.Test(day.Day()) && !e.Dow.Test(int(day.Weekday())) {
			continue
		}
		for hour := 0; hour < hourPerDay; hour++ {
			if !e.Hour.Test(hour) {
				continue
			}
			for minute := 0; minute < minPerHour; minute++ {
				if !e.Minute.Test(minute) {
					continue
				}
				for part := 0; part < minutePartCount; part++ {
					if !e.MinPart.Test(part) {
						continue
					}
					cand := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, part*(60/minutePartCount), 0, day.Location())
					if !cand.Before(start) {
						return cand
					}
				}
			}
		}
	}
	return time.Time{}
}
