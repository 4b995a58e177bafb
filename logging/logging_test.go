package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	l, err := New("production", "debug")
	require.NoError(t, err)
	require.NotNil(t, l)

	l, err = New("development", "")
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = New("development", "loud")
	require.Error(t, err)
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
}

func TestShortID(t *testing.T) {
	require.Equal(t, "abc", ShortID("abc"))
	require.Equal(t, "12345678", ShortID("1234567890"))
}
