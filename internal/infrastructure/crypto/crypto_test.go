package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewSealer(make([]byte, 32))
	require.NoError(t, err)

	sealed, err := s.Seal("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	secret, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
}

func TestNonceVariesPerSeal(t *testing.T) {
	s, err := NewSealer(make([]byte, 32))
	require.NoError(t, err)

	c1, err := s.Seal("same input")
	require.NoError(t, err)
	c2, err := s.Seal("same input")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestTamperedValueRejected(t *testing.T) {
	s, err := NewSealer(make([]byte, 32))
	require.NoError(t, err)

	sealed, err := s.Seal("secret")
	require.NoError(t, err)

	_, err = s.Open("A" + sealed[1:])
	assert.Error(t, err)

	_, err = s.Open("short")
	assert.Error(t, err)
}

func TestOnlyAES256KeysAccepted(t *testing.T) {
	for _, n := range []int{16, 17, 24, 31, 33} {
		_, err := NewSealer(make([]byte, n))
		assert.Error(t, err, "key length %d", n)
	}
}
