package teetime

import (
	"fmt"
	"time"
)

type Platform string

const (
	PlatformForeUp  Platform = "foreup"
	PlatformGolfNow Platform = "golfnow"
)

// CartPref is the walk/cart preference for a booking request.
type CartPref string

const (
	CartEither   CartPref = "either"
	CartRequired CartPref = "cart"
	WalkOnly     CartPref = "walk"
)

// HolePref is the preferred round length. Zero means either.
type HolePref int

const (
	HolesEither HolePref = 0
	Holes9      HolePref = 9
	Holes18     HolePref = 18
)

type Preferences struct {
	Cart  CartPref
	Holes HolePref

	// MaxPrice caps the per-player green fee. Zero means uncapped.
	MaxPrice float64
}

// AvailabilityQuery describes what the engine is hunting for. It is derived
// once from configuration and stays immutable for the life of a job.
type AvailabilityQuery struct {
	CourseID   string
	CourseName string

	// DateFrom/DateTo are inclusive, midnight in course-local time.
	DateFrom time.Time
	DateTo   time.Time

	// EarliestMin/LatestMin bound the acceptable time of day, in minutes
	// after midnight (inclusive).
	EarliestMin int
	LatestMin   int

	Weekdays map[time.Weekday]bool

	PartySize int
	Prefs     Preferences
}

// Dates yields every date in the query range whose weekday is allowed.
func (q AvailabilityQuery) Dates() []time.Time {
	var out []time.Time
	for d := q.DateFrom; !d.After(q.DateTo); d = d.AddDate(0, 0, 1) {
		if len(q.Weekdays) > 0 && !q.Weekdays[d.Weekday()] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Slot is one bookable opening reported by a provider.
type Slot struct {
	ID         string
	Date       time.Time // midnight, course-local
	TimeOfDay  int       // minutes after midnight
	Price      float64
	OpenSpots  int
	CourseName string
	Holes      int

	WalkAllowed bool
	CartAllowed bool

	// Meta carries provider-specific booking tokens.
	Meta map[string]string
}

// Start is the slot's wall-clock start time.
func (s Slot) Start() time.Time {
	return s.Date.Add(time.Duration(s.TimeOfDay) * time.Minute)
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %02d:%02d (%s, %dh, $%.2f, %d open)",
		s.Date.Format("2006-01-02"), s.TimeOfDay/60, s.TimeOfDay%60, s.CourseName, s.Holes, s.Price, s.OpenSpots)
}

// BookingRequest addresses one chosen slot. One-shot; never persisted past
// the attempt.
type BookingRequest struct {
	SlotID  string
	Players []string
	Prefs   Preferences
}

// BookingOutcome is the terminal value of one scheduling attempt.
type BookingOutcome struct {
	Success          bool
	BookingID        string
	ConfirmationCode string
	Message          string
	Slot             *Slot
	Err              string
}
