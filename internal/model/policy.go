package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type SlotUnit string

const (
	SlotUnitHour     SlotUnit = "HOUR"
	SlotUnitHalfHour SlotUnit = "HALF_HOUR"
)

func (u SlotUnit) Valid() bool { return u == SlotUnitHour || u == SlotUnitHalfHour }

func (u SlotUnit) Duration() time.Duration {
	if u == SlotUnitHalfHour {
		return 30 * time.Minute
	}
	return time.Hour
}

func ParseSlotUnit(raw string) (SlotUnit, bool) {
	u := SlotUnit(strings.ToUpper(strings.TrimSpace(raw)))
	return u, u.Valid()
}

type RecurrencePattern string

const (
	EveryWeek RecurrencePattern = "EVERY_WEEK"
	OddWeek   RecurrencePattern = "ODD_WEEK"
	EvenWeek  RecurrencePattern = "EVEN_WEEK"
)

func (p RecurrencePattern) Valid() bool { return p == EveryWeek || p == OddWeek || p == EvenWeek }

// Matches applies the pattern to the ISO week of date.
func (p RecurrencePattern) Matches(date time.Time) bool {
	_, week := date.ISOWeek()
	switch p {
	case OddWeek:
		return week%2 == 1
	case EvenWeek:
		return week%2 == 0
	default:
		return true
	}
}

// WeeklySlotTime is one recurring slot start.
type WeeklySlotTime struct {
	Weekday time.Weekday `json:"weekday"`
	Start   TimeOfDay    `json:"start"`
}

// ClosedDate marks a whole day, or the [From, To) part of it, as not operating.
type ClosedDate struct {
	Date time.Time
	From *TimeOfDay
	To   *TimeOfDay
}

func (c ClosedDate) Covers(date time.Time, at TimeOfDay) bool {
	if !DateOf(c.Date).Equal(DateOf(date)) {
		return false
	}
	if c.From == nil || c.To == nil {
		return true
	}
	return at >= *c.From && at < *c.To
}

type closedDateJSON struct {
	Date string     `json:"date"`
	From *TimeOfDay `json:"from,omitempty"`
	To   *TimeOfDay `json:"to,omitempty"`
}

func (c ClosedDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(closedDateJSON{Date: FormatDate(c.Date), From: c.From, To: c.To})
}

func (c *ClosedDate) UnmarshalJSON(b []byte) error {
	var raw closedDateJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d, err := ParseDate(raw.Date)
	if err != nil {
		return fmt.Errorf("closed date: %w", err)
	}
	if (raw.From == nil) != (raw.To == nil) {
		return fmt.Errorf("closed date %s: from and to must be set together", raw.Date)
	}
	if raw.From != nil && *raw.From >= *raw.To {
		return fmt.Errorf("closed date %s: empty time range", raw.Date)
	}
	*c = ClosedDate{Date: d, From: raw.From, To: raw.To}
	return nil
}

// WeeklyPolicy is the read-only operating schedule of one room.
type WeeklyPolicy struct {
	ID          int64
	RoomID      int64
	Slots       []WeeklySlotTime
	Recurrence  RecurrencePattern
	ClosedDates []ClosedDate
	UpdatedAt   time.Time
}

// IsClosed reports whether a slot start falls inside a closed-date override.
func (p WeeklyPolicy) IsClosed(date time.Time, at TimeOfDay) bool {
	for _, c := range p.ClosedDates {
		if c.Covers(date, at) {
			return true
		}
	}
	return false
}

// StartTimesFor returns the sorted, distinct slot starts that apply to date.
// Starts not aligned to unit and starts covered by a closed date are left out.
func (p WeeklyPolicy) StartTimesFor(date time.Time, unit SlotUnit) []TimeOfDay {
	if !p.Recurrence.Matches(date) {
		return nil
	}
	step := int(unit.Duration() / time.Minute)
	seen := make(map[TimeOfDay]struct{}, len(p.Slots))
	out := make([]TimeOfDay, 0, len(p.Slots))
	for _, st := range p.Slots {
		if st.Weekday != date.Weekday() {
			continue
		}
		if int(st.Start)%step != 0 || p.IsClosed(date, st.Start) {
			continue
		}
		if _, dup := seen[st.Start]; dup {
			continue
		}
		seen[st.Start] = struct{}{}
		out = append(out, st.Start)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p WeeklyPolicy) Validate() error {
	if p.RoomID <= 0 {
		return fmt.Errorf("room id must be positive")
	}
	if !p.Recurrence.Valid() {
		return fmt.Errorf("invalid recurrence %q", p.Recurrence)
	}
	for _, st := range p.Slots {
		if st.Weekday < time.Sunday || st.Weekday > time.Saturday {
			return fmt.Errorf("invalid weekday %d", st.Weekday)
		}
		if st.Start < 0 || st.Start >= 24*60 {
			return fmt.Errorf("invalid start %d", st.Start)
		}
	}
	return nil
}
