package generic

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive range of calendar days [Start, End].
//
// Examples:
//   - Calendar quarter 2025 Q4: Oct 1 - Dec 31
//   - Allocation period 1 of that quarter: Oct 31 - Nov 29
type Period struct {
	Start TimePoint `json:"start"`
	End   TimePoint `json:"end"`
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns the number of calendar days covered by the period.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Validate returns ErrInvalidPeriod if End is before Start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
