package golfnow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/example/tee-scheduler/internal/domain/teetime"
)

// rawTeeTime is what the in-page collector script hands back for one tee-time
// card. Everything is the display text the site currently renders; parsing
// lives here so markup drift is contained to this file and its collector.
type rawTeeTime struct {
	Time    string `json:"time"`    // "3:00 PM"
	Price   string `json:"price"`   // "$45.00"
	Holes   string `json:"holes"`   // "18 Holes"
	Players string `json:"players"` // "1-4 Players"
	Cart    string `json:"cart"`    // "Cart Included" / "Walking Only" / "Cart Optional"
	Course  string `json:"course"`
	URL     string `json:"url"`
}

// parseRow converts one card into a domain slot for the given day.
func parseRow(day time.Time, raw rawTeeTime) (teetime.Slot, error) {
	minutes, err := parseClockTime(raw.Time)
	if err != nil {
		return teetime.Slot{}, errors.Wrapf(err, "time %q", raw.Time)
	}
	price, err := parsePrice(raw.Price)
	if err != nil {
		return teetime.Slot{}, errors.Wrapf(err, "price %q", raw.Price)
	}
	holes := parseHoles(raw.Holes)
	open := parsePlayers(raw.Players)
	walk, cart := parseCart(raw.Cart)

	return teetime.Slot{
		ID:          fmt.Sprintf("%s-%04d-%s", day.Format("20060102"), minutes, slugify(raw.Course)),
		Date:        day,
		TimeOfDay:   minutes,
		Price:       price,
		OpenSpots:   open,
		CourseName:  strings.TrimSpace(raw.Course),
		Holes:       holes,
		WalkAllowed: walk,
		CartAllowed: cart,
		Meta:        map[string]string{"url": raw.URL},
	}, nil
}

// parseClockTime accepts "3:00 PM", "7:05am" and 24h "15:00", returning
// minutes after midnight.
func parseClockTime(s string) (int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	meridiem := ""
	for _, suffix := range []string{"AM", "PM"} {
		if strings.HasSuffix(s, suffix) {
			meridiem = suffix
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
		}
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, errors.New("no hour:minute separator")
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, err
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, errors.New("out of range")
	}
	switch meridiem {
	case "PM":
		if hour == 12 {
			// noon stays 12
		} else if hour > 12 {
			return 0, errors.New("hour out of range for PM")
		} else {
			hour += 12
		}
	case "AM":
		if hour == 12 {
			hour = 0
		}
	}
	return hour*60 + minute, nil
}

func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, errors.New("empty price")
	}
	return strconv.ParseFloat(s, 64)
}

// parseHoles pulls the leading number out of "18 Holes"; zero if absent.
func parseHoles(s string) int {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}

// parsePlayers returns the upper bound of "1-4 Players" or the single count
// of "2 Players"; zero when the site shows nothing parseable.
func parsePlayers(s string) int {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return 0
	}
	spec := fields[0]
	if i := strings.LastIndex(spec, "-"); i >= 0 {
		spec = spec[i+1:]
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return 0
	}
	return n
}

func parseCart(s string) (walkAllowed, cartAllowed bool) {
	switch {
	case strings.EqualFold(strings.TrimSpace(s), "walking only"):
		return true, false
	case strings.EqualFold(strings.TrimSpace(s), "cart included"):
		return false, true
	default:
		// "Cart Optional", unknown or missing labels: assume both.
		return true, true
	}
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// collectScript runs inside the search results page and dumps one raw row per
// visible tee-time card. Selector churn lands here, nowhere else.
const collectScript = `
(() => {
  const cards = document.querySelectorAll('[data-test="teetime-card"], .teetime-item');
  const text = (card, sel) => {
    const el = card.querySelector(sel);
    return el ? el.textContent.trim() : '';
  };
  return Array.from(cards).map(card => ({
    time: text(card, '[data-test="teetime-time"], .time'),
    price: text(card, '[data-test="teetime-price"], .price'),
    holes: text(card, '[data-test="teetime-holes"], .holes'),
    players: text(card, '[data-test="teetime-players"], .players'),
    cart: text(card, '[data-test="teetime-cart"], .cart'),
    course: text(card, '[data-test="teetime-course"], .course-name'),
    url: (card.querySelector('a') || {href: ''}).href,
  }));
})()
`
