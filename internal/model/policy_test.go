package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekdayPolicy(starts ...TimeOfDay) WeeklyPolicy {
	p := WeeklyPolicy{RoomID: 100, Recurrence: EveryWeek}
	for d := time.Monday; d <= time.Friday; d++ {
		for _, s := range starts {
			p.Slots = append(p.Slots, WeeklySlotTime{Weekday: d, Start: s})
		}
	}
	return p
}

func TestWeeklyPolicy_StartTimesFor(t *testing.T) {
	p := weekdayPolicy(NewTimeOfDay(11, 0), NewTimeOfDay(9, 0), NewTimeOfDay(9, 0))
	wed := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	sat := time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []TimeOfDay{NewTimeOfDay(9, 0), NewTimeOfDay(11, 0)}, p.StartTimesFor(wed, SlotUnitHour))
	assert.Empty(t, p.StartTimesFor(sat, SlotUnitHour))
}

func TestWeeklyPolicy_SkipsMisalignedStarts(t *testing.T) {
	p := weekdayPolicy(NewTimeOfDay(9, 0), NewTimeOfDay(9, 30))
	wed := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []TimeOfDay{NewTimeOfDay(9, 0)}, p.StartTimesFor(wed, SlotUnitHour))
	assert.Len(t, p.StartTimesFor(wed, SlotUnitHalfHour), 2)
}

func TestWeeklyPolicy_ClosedDates(t *testing.T) {
	wed := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	from, to := NewTimeOfDay(10, 0), NewTimeOfDay(12, 0)

	p := weekdayPolicy(NewTimeOfDay(9, 0), NewTimeOfDay(10, 0), NewTimeOfDay(11, 0))
	p.ClosedDates = []ClosedDate{{Date: wed, From: &from, To: &to}}
	assert.Equal(t, []TimeOfDay{NewTimeOfDay(9, 0)}, p.StartTimesFor(wed, SlotUnitHour))

	p.ClosedDates = []ClosedDate{{Date: wed}}
	assert.Empty(t, p.StartTimesFor(wed, SlotUnitHour))
	assert.Len(t, p.StartTimesFor(wed.AddDate(0, 0, 1), SlotUnitHour), 3)
}

func TestRecurrencePattern_Matches(t *testing.T) {
	// 2025-11-05 is in ISO week 45.
	oddWeek := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	evenWeek := oddWeek.AddDate(0, 0, 7)

	assert.True(t, EveryWeek.Matches(oddWeek))
	assert.True(t, OddWeek.Matches(oddWeek))
	assert.False(t, OddWeek.Matches(evenWeek))
	assert.True(t, EvenWeek.Matches(evenWeek))
}

func TestClosedDate_JSON(t *testing.T) {
	var c ClosedDate
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2025-12-25","from":"10:00","to":"12:00"}`), &c))
	assert.Equal(t, "2025-12-25", FormatDate(c.Date))
	require.NotNil(t, c.From)
	assert.Equal(t, NewTimeOfDay(10, 0), *c.From)

	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025-12-25","from":"10:00","to":"12:00"}`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`{"date":"2025-12-25","from":"10:00"}`), &c))
	assert.Error(t, json.Unmarshal([]byte(`{"date":"25/12/2025"}`), &c))
}

func TestWeeklyPolicy_Validate(t *testing.T) {
	assert.NoError(t, weekdayPolicy(NewTimeOfDay(9, 0)).Validate())

	bad := weekdayPolicy(NewTimeOfDay(9, 0))
	bad.Recurrence = "DAILY"
	assert.Error(t, bad.Validate())
}
