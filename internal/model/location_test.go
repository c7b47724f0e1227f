package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestLocationPoint(t *testing.T) {
	l := &Location{State: "VA", Lat: ptr(37.5407), Lon: ptr(-77.4360)}
	p := l.Point()
	require.NotNil(t, p)
	assert.Equal(t, 4326, p.SRID())
	assert.InDelta(t, -77.4360, p.X(), 1e-9)
	assert.InDelta(t, 37.5407, p.Y(), 1e-9)

	assert.Nil(t, (&Location{State: "VA"}).Point())
	assert.Nil(t, (*Location)(nil).Point())
}

func TestDistanceMiles(t *testing.T) {
	richmond := &Location{Lat: ptr(37.5407), Lon: ptr(-77.4360)}
	raleigh := &Location{Lat: ptr(35.7796), Lon: ptr(-78.6382)}

	d, ok := DistanceMiles(richmond, raleigh)
	require.True(t, ok)
	assert.InDelta(t, 138, d, 3)

	d, ok = DistanceMiles(richmond, richmond)
	require.True(t, ok)
	assert.InDelta(t, 0, d, 1e-9)

	_, ok = DistanceMiles(richmond, &Location{State: "NC"})
	assert.False(t, ok)
}

func TestLocationIsZeroAndSameState(t *testing.T) {
	assert.True(t, (*Location)(nil).IsZero())
	assert.True(t, (&Location{}).IsZero())
	assert.False(t, (&Location{Zip: "23219"}).IsZero())

	va := &Location{State: "VA"}
	assert.True(t, va.SameState(&Location{State: "va"}))
	assert.False(t, va.SameState(&Location{State: "NC"}))
	assert.False(t, (&Location{}).SameState(&Location{}))
	assert.False(t, va.SameState(nil))
}
