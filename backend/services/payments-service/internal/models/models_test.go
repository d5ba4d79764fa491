package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValueAndScan(t *testing.T) {
	value, err := Metadata{"chain": "base", "amount": 1.5}.Value()
	require.NoError(t, err)

	var out Metadata
	require.NoError(t, out.Scan(value))
	assert.Equal(t, "base", out.String("chain"))
	assert.Equal(t, 1.5, out["amount"])

	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out)

	require.Error(t, out.Scan(42))
	require.Error(t, out.Scan("{not json"))
}

func TestNilMetadataEncodesEmptyObject(t *testing.T) {
	var m Metadata
	value, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), value)
}

func TestMetadataMergeDoesNotMutate(t *testing.T) {
	base := Metadata{"a": "1", "b": "2"}
	merged := base.Merge(Metadata{"b": "3", "c": "4"})

	assert.Equal(t, Metadata{"a": "1", "b": "3", "c": "4"}, merged)
	assert.Equal(t, Metadata{"a": "1", "b": "2"}, base)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{LinkStatusPending, LinkStatusPaid, true},
		{LinkStatusPending, LinkStatusExpired, true},
		{LinkStatusPending, LinkStatusFailed, true},
		{LinkStatusPaid, LinkStatusRefunded, true},
		{LinkStatusExpired, LinkStatusPaid, false},
		{LinkStatusPaid, LinkStatusExpired, false},
		{LinkStatusPending, LinkStatusRefunded, false},
		{LinkStatusRefunded, LinkStatusPaid, false},
		{LinkStatusPaid, LinkStatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestIsExpiredAt(t *testing.T) {
	expires := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	link := PaymentLink{ExpiresAt: expires}

	assert.False(t, link.IsExpiredAt(expires))
	assert.True(t, link.IsExpiredAt(expires.Add(time.Second)))
}
