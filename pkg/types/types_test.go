package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_Window(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		ts := Timestamp{Hour: hour}
		assert.Equal(t, hour/2, ts.Window(), "hour %d", hour)
	}
	assert.Equal(t, 0, Timestamp{Hour: 1}.Window())
	assert.Equal(t, 1, Timestamp{Hour: 3}.Window())
	assert.Equal(t, 11, Timestamp{Hour: 23}.Window())
}

func TestOptional_ZeroValueIsEmpty(t *testing.T) {
	var o Optional
	assert.True(t, o.IsEmpty())
	assert.Equal(t, Empty, o)

	_, ok := o.Get()
	assert.False(t, ok)
	assert.Equal(t, -1.0, o.ValueOr(-1))
}

func TestOptional_Some(t *testing.T) {
	o := Some(0)
	v, ok := o.Get()
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
	assert.False(t, o.IsEmpty())
}

func TestBucketStats_JSON(t *testing.T) {
	empty, err := json.Marshal(BucketStats{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":0,"mean":null,"std":null,"observations":0}`, string(empty))

	full, err := json.Marshal(BucketStats{Sum: 6, Mean: Some(2), Std: Some(0.5), Observations: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":6,"mean":2,"std":0.5,"observations":3}`, string(full))

	var back BucketStats
	require.NoError(t, json.Unmarshal(empty, &back))
	assert.True(t, back.Mean.IsEmpty())

	require.NoError(t, json.Unmarshal(full, &back))
	assert.Equal(t, Some(2), back.Mean)
}

func TestFetchReport_FailedPages(t *testing.T) {
	r := FetchReport{Pages: []PageResult{
		{Index: 0, Records: 200},
		{Index: 1, Error: "timeline: unexpected status 503"},
	}}
	failed := r.FailedPages()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Index)
}

func TestFetchReport_Unavailable(t *testing.T) {
	assert.False(t, FetchReport{}.Unavailable())
	assert.False(t, FetchReport{Pages: []PageResult{
		{Index: 0, Records: 200},
		{Index: 1, Error: "timeline: unexpected status 503"},
	}}.Unavailable())
	assert.True(t, FetchReport{Pages: []PageResult{
		{Index: 0, Error: "timeline: unauthorized"},
	}}.Unavailable())
}
