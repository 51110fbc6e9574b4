package histogram

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpulse/postpulse/pkg/types"
)

func ts(year, week, weekday, hour int) types.Timestamp {
	return types.Timestamp{Year: year, Week: week, Weekday: weekday, Hour: hour}
}

// randomTimestamps returns n timestamps spread over a few weeks.
func randomTimestamps(r *rand.Rand, n int) []types.Timestamp {
	out := make([]types.Timestamp, n)
	for i := range out {
		out[i] = ts(2024, 1+r.Intn(6), r.Intn(7), r.Intn(24))
	}
	return out
}

func TestAggregate_SameDayCountsTogether(t *testing.T) {
	set := Aggregate([]types.Timestamp{
		ts(2024, 10, 1, 9),
		ts(2024, 10, 1, 14),
		ts(2024, 10, 1, 20),
	})

	assert.Equal(t, 3, set.Weekly[1][WeekKey{2024, 10}])
	assert.Len(t, set.Weekly[1], 1)
	for d, bucket := range set.Weekly {
		if d != 1 {
			assert.Empty(t, bucket, "weekday %d", d)
		}
	}
	assert.Equal(t, 3, set.Total())
}

func TestAggregate_WindowsFromHours(t *testing.T) {
	set := Aggregate([]types.Timestamp{
		ts(2024, 10, 2, 1),
		ts(2024, 10, 2, 3),
		ts(2024, 10, 2, 23),
	})

	day := DayKey{2024, 10, 2}
	assert.Equal(t, 1, set.Daily[0][day])
	assert.Equal(t, 1, set.Daily[1][day])
	assert.Equal(t, 1, set.Daily[11][day])
	for w, bucket := range set.Daily {
		if w != 0 && w != 1 && w != 11 {
			assert.Empty(t, bucket, "window %d", w)
		}
	}
}

func TestAggregate_EveryHourMapsToItsWindow(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		set := Aggregate([]types.Timestamp{ts(2024, 5, 3, hour)})
		for w, bucket := range set.Daily {
			if w == hour/2 {
				assert.Len(t, bucket, 1, "hour %d window %d", hour, w)
			} else {
				assert.Empty(t, bucket, "hour %d leaked into window %d", hour, w)
			}
		}
	}
}

func TestAggregate_DifferentWeeksAreSeparateObservations(t *testing.T) {
	set := Aggregate([]types.Timestamp{
		ts(2024, 10, 1, 9),
		ts(2024, 11, 1, 9),
		ts(2024, 11, 1, 8),
		ts(2025, 10, 1, 9),
	})

	assert.Equal(t, map[WeekKey]int{
		{2024, 10}: 1,
		{2024, 11}: 2,
		{2025, 10}: 1,
	}, set.Weekly[1])
	assert.Equal(t, map[DayKey]int{
		{2024, 10, 1}: 1,
		{2024, 11, 1}: 2,
		{2025, 10, 1}: 1,
	}, set.Daily[4])
}

func TestAggregate_WeekdayPartition(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	input := randomTimestamps(r, 500)
	set := Aggregate(input)

	for d := 0; d < types.DaysPerWeek; d++ {
		var want, got int
		for _, p := range input {
			if p.Weekday == d {
				want++
			}
		}
		for _, c := range set.Weekly[d] {
			got += c
		}
		assert.Equal(t, want, got, "weekday %d", d)
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	input := randomTimestamps(r, 300)

	shuffled := append([]types.Timestamp(nil), input...)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	assert.Equal(t, Aggregate(input), Aggregate(shuffled))
}

func TestAggregate_Idempotent(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	input := randomTimestamps(r, 100)
	before := append([]types.Timestamp(nil), input...)

	first := Aggregate(input)
	second := Aggregate(input)

	assert.Equal(t, first, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, before, input, "input must not be mutated")
}

func TestAggregate_SumsMatchInputSize(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	input := randomTimestamps(r, 250)
	set := Aggregate(input)

	var weekly, daily int
	for _, b := range set.Weekly {
		for _, c := range b {
			weekly += c
		}
	}
	for _, b := range set.Daily {
		for _, c := range b {
			daily += c
		}
	}
	assert.Equal(t, len(input), weekly)
	assert.Equal(t, len(input), daily)
}

func TestAdd_RejectsOutOfRange(t *testing.T) {
	s := New()
	assert.False(t, s.Add(ts(2024, 1, 7, 0)))
	assert.False(t, s.Add(ts(2024, 1, -1, 0)))
	assert.False(t, s.Add(ts(2024, 1, 0, 24)))
	assert.True(t, s.Add(ts(2024, 1, 0, 23)))
	require.Equal(t, 1, s.Total())
}

func TestAggregate_SkipsOutOfRange(t *testing.T) {
	set := Aggregate([]types.Timestamp{
		ts(2024, 1, 0, 23),
		ts(2024, 1, 9, 0),
		ts(2024, 1, 2, 30),
	})
	assert.Equal(t, 1, set.Total())
	assert.Equal(t, 1, set.Weekly[0][WeekKey{2024, 1}])
	assert.Equal(t, 1, set.Daily[11][DayKey{2024, 1, 0}])
}

func TestKeyStrings(t *testing.T) {
	assert.Equal(t, "2024-10", WeekKey{2024, 10}.String())
	assert.Equal(t, "2024-10-1", DayKey{2024, 10, 1}.String())
}
