package daterange

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRange = errors.New("daterange: checkout must not precede checkin")
	ErrInvalidDate  = errors.New("daterange: invalid date")
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Day is a calendar date expressed as days since 1970-01-01.
type Day int32

// DayOf keys t by its own year, month and day, ignoring the clock and the zone offset.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay)
}

// ParseDay accepts YYYY-MM-DD or RFC3339.
func ParseDay(raw string) (Day, error) {
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return DayOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return DayOf(t), nil
}

const secondsPerDay = 24 * 60 * 60

func (d Day) Time() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

func (d Day) AddDays(n int) Day {
	return d + Day(n)
}

func (d Day) String() string {
	return d.Time().Format(DateLayout)
}

// DateRange is an inclusive span of calendar days [CheckIn, CheckOut].
type DateRange struct {
	CheckIn  Day
	CheckOut Day
}

func New(checkIn, checkOut Day) (DateRange, error) {
	dr := DateRange{CheckIn: checkIn, CheckOut: checkOut}
	if err := dr.Validate(); err != nil {
		return DateRange{}, err
	}
	return dr, nil
}

func (dr DateRange) Validate() error {
	if dr.CheckOut < dr.CheckIn {
		return ErrInvalidRange
	}
	return nil
}

// Nights is the elapsed-day difference; a same-day stay has zero elapsed nights.
func (dr DateRange) Nights() int {
	return int(dr.CheckOut - dr.CheckIn)
}

// Days is the inclusive count of calendar days covered by the range.
func (dr DateRange) Days() int {
	if dr.CheckOut < dr.CheckIn {
		return 0
	}
	return int(dr.CheckOut-dr.CheckIn) + 1
}

// Each calls fn for every day of the range in order and stops at the first error.
func (dr DateRange) Each(fn func(Day) error) error {
	for d := dr.CheckIn; d <= dr.CheckOut; d++ {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (dr DateRange) String() string {
	return dr.CheckIn.String() + ".." + dr.CheckOut.String()
}

func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(text []byte) error {
	parsed, err := ParseDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
