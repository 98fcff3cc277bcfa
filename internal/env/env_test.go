package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetters(t *testing.T) {
	t.Setenv("LF_STRING", "hello")
	t.Setenv("LF_INT", "42")
	t.Setenv("LF_BAD_INT", "forty")
	t.Setenv("LF_BOOL", "true")
	t.Setenv("LF_DURATION", "6h")
	t.Setenv("LF_BAD_DURATION", "soon")

	require.Equal(t, "hello", GetString("LF_STRING", "x"))
	require.Equal(t, "x", GetString("LF_MISSING", "x"))

	require.Equal(t, 42, GetInt("LF_INT", 1))
	require.Equal(t, 1, GetInt("LF_BAD_INT", 1))

	require.True(t, GetBool("LF_BOOL", false))
	require.False(t, GetBool("LF_MISSING", false))

	require.Equal(t, 6*time.Hour, GetDuration("LF_DURATION", time.Minute))
	require.Equal(t, time.Minute, GetDuration("LF_BAD_DURATION", time.Minute))
}
