package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestE8sAddSaturates(t *testing.T) {
	max := E8s(^uint64(0))
	require.Equal(t, max, max.Add(1))
}

func TestE8sSubSaturatesAtZero(t *testing.T) {
	require.Equal(t, E8s(0), E8s(5).Sub(10))
	require.Equal(t, E8s(5), E8s(10).Sub(5))
}

func TestE8sString(t *testing.T) {
	require.Equal(t, "1.23456789", E8s(123456789).String())
	require.Equal(t, "0.00000001", E8s(1).String())
}

func TestE8sLessThanAndIsZero(t *testing.T) {
	require.True(t, E8s(1).LessThan(2))
	require.False(t, E8s(2).LessThan(1))
	require.True(t, E8s(0).IsZero())
	require.False(t, E8s(1).IsZero())
}
