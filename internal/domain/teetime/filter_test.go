package teetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func baseQuery() AvailabilityQuery {
	return AvailabilityQuery{
		CourseID:    "42",
		DateFrom:    date(2024, 6, 3),
		DateTo:      date(2024, 6, 16),
		EarliestMin: 7 * 60,
		LatestMin:   18 * 60,
		PartySize:   4,
		Prefs:       Preferences{Cart: CartEither, Holes: HolesEither},
	}
}

func baseSlot() Slot {
	return Slot{
		ID:          "s1",
		Date:        date(2024, 6, 10),
		TimeOfDay:   9 * 60,
		Price:       45,
		OpenSpots:   4,
		Holes:       18,
		WalkAllowed: true,
		CartAllowed: true,
	}
}

func TestEligibleTimeWindow(t *testing.T) {
	q := baseQuery()

	s := baseSlot()
	s.TimeOfDay = 6*60 + 59
	assert.False(t, Eligible(q, s), "before earliest")

	s.TimeOfDay = 7 * 60
	assert.True(t, Eligible(q, s), "window start is inclusive")

	s.TimeOfDay = 18 * 60
	assert.True(t, Eligible(q, s), "window end is inclusive")

	s.TimeOfDay = 18*60 + 1
	assert.False(t, Eligible(q, s), "after latest")
}

func TestEligiblePriceCap(t *testing.T) {
	q := baseQuery()
	s := baseSlot()

	assert.True(t, Eligible(q, s), "uncapped accepts any price")

	q.Prefs.MaxPrice = 40
	assert.False(t, Eligible(q, s))

	s.Price = 40
	assert.True(t, Eligible(q, s), "cap is inclusive")
}

func TestEligibleHolePreference(t *testing.T) {
	q := baseQuery()
	s := baseSlot()

	q.Prefs.Holes = Holes9
	assert.False(t, Eligible(q, s))

	s.Holes = 9
	assert.True(t, Eligible(q, s))

	q.Prefs.Holes = HolesEither
	s.Holes = 18
	assert.True(t, Eligible(q, s))
}

func TestEligibleCartPreference(t *testing.T) {
	q := baseQuery()
	s := baseSlot()
	s.CartAllowed = false

	q.Prefs.Cart = CartRequired
	assert.False(t, Eligible(q, s))

	q.Prefs.Cart = WalkOnly
	assert.True(t, Eligible(q, s))

	s.WalkAllowed = false
	assert.False(t, Eligible(q, s))

	q.Prefs.Cart = CartEither
	assert.True(t, Eligible(q, s), "either ignores locomotion flags")
}

func TestEligibleWeekdays(t *testing.T) {
	q := baseQuery()
	q.Weekdays = map[time.Weekday]bool{time.Saturday: true, time.Sunday: true}

	s := baseSlot() // 2024-06-10 is a Monday
	assert.False(t, Eligible(q, s))

	s.Date = date(2024, 6, 8) // Saturday
	assert.True(t, Eligible(q, s))
}

func TestEligibleCapacity(t *testing.T) {
	q := baseQuery()
	s := baseSlot()
	s.OpenSpots = 2
	assert.False(t, Eligible(q, s), "not enough open spots for the party")

	s.OpenSpots = 0
	assert.True(t, Eligible(q, s), "zero means the backend did not report capacity")
}

func TestFilterEligiblePreservesOrder(t *testing.T) {
	q := baseQuery()
	a := baseSlot()
	b := baseSlot()
	b.ID = "s2"
	b.TimeOfDay = 19 * 60 // off-window
	c := baseSlot()
	c.ID = "s3"

	got := FilterEligible(q, []Slot{a, b, c})
	assert.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "s3", got[1].ID)
}

func TestQueryDates(t *testing.T) {
	q := baseQuery()
	q.DateFrom = date(2024, 6, 3) // Monday
	q.DateTo = date(2024, 6, 9)   // Sunday
	q.Weekdays = map[time.Weekday]bool{time.Wednesday: true, time.Friday: true}

	got := q.Dates()
	assert.Len(t, got, 2)
	assert.Equal(t, date(2024, 6, 5), got[0])
	assert.Equal(t, date(2024, 6, 7), got[1])
}
