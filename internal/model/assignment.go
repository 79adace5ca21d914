package model

import "sort"

// Assignment maps a session to its ordered list of AtomicUnits, produced by
// the Task Distributor (spec §4.5). Every AtomicUnit appears in exactly one
// session's list; no Group is ever split across two entries.
type Assignment map[SessionName][]AtomicUnit

// SessionNames returns the assignment's keys in deterministic (sorted)
// order, matching the Distributor's tie-break rule and the Pool's
// ListLoggedIn contract.
func (a Assignment) SessionNames() []SessionName {
	names := make([]SessionName, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// TotalWeight sums the byte weight of every unit assigned to name.
func (a Assignment) TotalWeight(name SessionName) int64 {
	var total int64
	for _, u := range a[name] {
		total += u.Weight()
	}
	return total
}

// UnitCount returns the total number of AtomicUnits across all sessions.
func (a Assignment) UnitCount() int {
	n := 0
	for _, units := range a {
		n += len(units)
	}
	return n
}

// Balance returns (max-min)/max total byte weight across sessions, the
// soft load-balance target from spec §4.5 ("≲0.3 on typical inputs") and
// testable property 3 ("≤0.4"). Returns 0 when there is nothing to balance.
func (a Assignment) Balance() float64 {
	if len(a) == 0 {
		return 0
	}
	min, max := int64(-1), int64(-1)
	for name := range a {
		w := a.TotalWeight(name)
		if min < 0 || w < min {
			min = w
		}
		if max < 0 || w > max {
			max = w
		}
	}
	if max == 0 {
		return 0
	}
	return float64(max-min) / float64(max)
}
