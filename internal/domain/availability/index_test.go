package availability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/domain/shared/daterange"
)

func day(t *testing.T, raw string) daterange.Day {
	t.Helper()
	d, err := daterange.ParseDay(raw)
	require.NoError(t, err)
	return d
}

func span(t *testing.T, from, to string) daterange.DateRange {
	t.Helper()
	dr, err := daterange.New(day(t, from), day(t, to))
	require.NoError(t, err)
	return dr
}

func TestMergeSequentialRangesUnion(t *testing.T) {
	ranges := []daterange.DateRange{
		span(t, "2026-11-01", "2026-11-03"),
		span(t, "2026-11-04", "2026-11-04"),
		span(t, "2026-12-30", "2027-01-02"),
	}

	idx := Index{}
	want := 0
	for _, r := range ranges {
		next, err := idx.Merge(r)
		require.NoError(t, err)
		idx = next
		want += r.Days()
	}

	assert.Equal(t, want, idx.Len())
	for _, r := range ranges {
		require.NoError(t, r.Each(func(d daterange.Day) error {
			assert.True(t, idx.Contains(d), "day %s should be reserved", d)
			return nil
		}))
	}
	assert.Equal(t, "2027-01-02", idx.Days()[idx.Len()-1].String())
}

func TestMergeConflictLeavesIndexUntouched(t *testing.T) {
	idx, err := Index{}.Merge(span(t, "2026-11-05", "2026-11-07"))
	require.NoError(t, err)
	before := idx.Days()

	_, err = idx.Merge(span(t, "2026-11-02", "2026-11-05"))
	require.Error(t, err)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "2026-11-05", conflict.Day.String())
	assert.ErrorIs(t, err, ErrOverlappingRange)

	assert.Equal(t, before, idx.Days())
	assert.False(t, idx.Contains(day(t, "2026-11-02")))
}

func TestMergeReportsFirstCollidingDay(t *testing.T) {
	idx := FromDays([]daterange.Day{day(t, "2026-11-10"), day(t, "2026-11-08")})

	_, err := idx.Merge(span(t, "2026-11-06", "2026-11-12"))
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "2026-11-08", conflict.Day.String())
}

func TestMergeDoesNotAliasReceiver(t *testing.T) {
	base := FromDays([]daterange.Day{day(t, "2026-11-01")})
	next, err := base.Merge(span(t, "2026-11-02", "2026-11-02"))
	require.NoError(t, err)

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, next.Len())
}

func TestMergeRejectsInvertedRange(t *testing.T) {
	_, err := Index{}.Merge(daterange.DateRange{CheckIn: day(t, "2026-11-02"), CheckOut: day(t, "2026-11-01")})
	assert.ErrorIs(t, err, daterange.ErrInvalidRange)
}

func TestBetween(t *testing.T) {
	idx := FromDays([]daterange.Day{
		day(t, "2026-11-01"), day(t, "2026-11-15"), day(t, "2026-12-01"),
	})

	got := idx.Between(day(t, "2026-11-02"), day(t, "2026-11-30"))
	require.Len(t, got, 1)
	assert.Equal(t, "2026-11-15", got[0].String())
	assert.Empty(t, idx.Between(day(t, "2026-11-16"), day(t, "2026-11-30")))
}

func TestFromDaysCollapsesDuplicates(t *testing.T) {
	idx := FromDays([]daterange.Day{day(t, "2026-11-02"), day(t, "2026-11-01"), day(t, "2026-11-01")})
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []daterange.Day{day(t, "2026-11-01"), day(t, "2026-11-02")}, idx.Days())
}
