package teetime

// ChooseEarliest returns the slot with the lexicographically smallest
// (date, time) pair. Ties are broken by date then time, never by price or
// input order.
func ChooseEarliest(slots []Slot) (Slot, bool) {
	if len(slots) == 0 {
		return Slot{}, false
	}
	best := slots[0]
	for _, s := range slots[1:] {
		if earlier(s, best) {
			best = s
		}
	}
	return best, true
}

func earlier(a, b Slot) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.TimeOfDay < b.TimeOfDay
}
