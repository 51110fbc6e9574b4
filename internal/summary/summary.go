// Package summary reduces histogram buckets to sum, mean and population
// standard deviation over their per-period counts.
package summary

import (
	"github.com/montanaflynn/stats"

	"github.com/postpulse/postpulse/internal/histogram"
	"github.com/postpulse/postpulse/pkg/types"
)

// Values returns the counts held in bucket. Order is unspecified; every
// statistic computed from it is order independent.
func Values[K comparable](bucket map[K]int) []float64 {
	out := make([]float64, 0, len(bucket))
	for _, c := range bucket {
		out = append(out, float64(c))
	}
	return out
}

// Summarize computes BucketStats over the counts in bucket.
func Summarize[K comparable](bucket map[K]int) types.BucketStats {
	return FromValues(Values(bucket))
}

// FromValues computes BucketStats over values. An empty input has Sum 0 and
// Empty Mean and Std.
func FromValues(values []float64) types.BucketStats {
	if len(values) == 0 {
		return types.BucketStats{}
	}

	sum, err := stats.Sum(values)
	if err != nil {
		return types.BucketStats{}
	}
	out := types.BucketStats{Sum: sum, Observations: len(values)}

	if mean, err := stats.Mean(values); err == nil {
		out.Mean = types.Some(mean)
	}
	if std, err := stats.StandardDeviationPopulation(values); err == nil {
		out.Std = types.Some(std)
	}
	return out
}

// Days summarises each weekday bucket of set.
func Days(set *histogram.Set) [types.DaysPerWeek]types.BucketStats {
	var out [types.DaysPerWeek]types.BucketStats
	for d, bucket := range set.Weekly {
		out[d] = Summarize(bucket)
	}
	return out
}

// Windows summarises each two-hour window bucket of set.
func Windows(set *histogram.Set) [types.WindowsPerDay]types.BucketStats {
	var out [types.WindowsPerDay]types.BucketStats
	for w, bucket := range set.Daily {
		out[w] = Summarize(bucket)
	}
	return out
}
