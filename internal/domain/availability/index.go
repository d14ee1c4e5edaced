package availability

import (
	"errors"
	"fmt"
	"sort"

	"staybook/internal/domain/shared/daterange"
)

var ErrOverlappingRange = errors.New("availability: range overlaps with a reserved day")

// ConflictError reports the first reserved day hit while merging a range.
type ConflictError struct {
	Day daterange.Day
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("availability: %s is already reserved", e.Day)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrOverlappingRange
}

// Index records which calendar days of a listing are reserved. Values are immutable:
// Merge returns a new Index and never modifies the receiver.
type Index struct {
	days map[daterange.Day]bool
}

// FromDays rebuilds an index from stored days. Duplicates collapse.
func FromDays(days []daterange.Day) Index {
	idx := Index{days: make(map[daterange.Day]bool, len(days))}
	for _, d := range days {
		idx.days[d] = true
	}
	return idx
}

func (i Index) Contains(d daterange.Day) bool {
	return i.days[d]
}

func (i Index) Len() int {
	return len(i.days)
}

// Days lists reserved days in ascending order.
func (i Index) Days() []daterange.Day {
	out := make([]daterange.Day, 0, len(i.days))
	for d := range i.days {
		out = append(out, d)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Between lists reserved days inside [from, to] in ascending order.
func (i Index) Between(from, to daterange.Day) []daterange.Day {
	out := make([]daterange.Day, 0)
	for _, d := range i.Days() {
		if d < from {
			continue
		}
		if d > to {
			break
		}
		out = append(out, d)
	}
	return out
}

// Merge marks every day of r, inclusive of both ends, in a copy of the index. The first
// already reserved day aborts the merge with a *ConflictError and nothing is marked.
func (i Index) Merge(r daterange.DateRange) (Index, error) {
	if err := r.Validate(); err != nil {
		return Index{}, err
	}
	working := make(map[daterange.Day]bool, len(i.days)+r.Days())
	for d := range i.days {
		working[d] = true
	}
	err := r.Each(func(d daterange.Day) error {
		if working[d] {
			return &ConflictError{Day: d}
		}
		working[d] = true
		return nil
	})
	if err != nil {
		return Index{}, err
	}
	return Index{days: working}, nil
}
