package h1

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccumulatorTake(t *testing.T) {
	a := NewAccumulator(0)
	require.Nil(t, a.Take())

	span := []byte("/hel")
	require.NoError(t, a.Append(span))
	span[0] = 'X'
	require.NoError(t, a.Append([]byte("lo")))
	require.Equal(t, 6, a.Len())

	require.Equal(t, []byte("/hello"), a.Take())
	require.Equal(t, 0, a.Len())
	require.Nil(t, a.Take())
}

func TestAccumulatorLimit(t *testing.T) {
	a := NewAccumulator(4)
	require.NoError(t, a.Append([]byte("ab")))
	require.NoError(t, a.Append([]byte("cd")))
	require.ErrorIs(t, a.Append([]byte("e")), ErrFieldTooLarge)
	require.Equal(t, []byte("abcd"), a.Take())

	a.Reset()
	require.NoError(t, a.Append([]byte("wxyz")))
}
