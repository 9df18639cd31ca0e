package teetime

// Eligible reports whether a slot satisfies the query. Both providers apply
// the same contract: time window, optional price cap, hole preference, and
// walk/cart preference. Weekday filtering happens here too because no backend
// offers a weekday filter server-side.
func Eligible(q AvailabilityQuery, s Slot) bool {
	if len(q.Weekdays) > 0 && !q.Weekdays[s.Date.Weekday()] {
		return false
	}
	if s.TimeOfDay < q.EarliestMin || s.TimeOfDay > q.LatestMin {
		return false
	}
	if s.OpenSpots > 0 && s.OpenSpots < q.PartySize {
		return false
	}
	if q.Prefs.MaxPrice > 0 && s.Price > q.Prefs.MaxPrice {
		return false
	}
	if q.Prefs.Holes != HolesEither && s.Holes != int(q.Prefs.Holes) {
		return false
	}
	switch q.Prefs.Cart {
	case CartRequired:
		if !s.CartAllowed {
			return false
		}
	case WalkOnly:
		if !s.WalkAllowed {
			return false
		}
	}
	return true
}

// FilterEligible keeps only slots that satisfy the query, preserving order.
func FilterEligible(q AvailabilityQuery, slots []Slot) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if Eligible(q, s) {
			out = append(out, s)
		}
	}
	return out
}
