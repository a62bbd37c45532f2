package stores

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{59 * time.Minute, "59m ago"},
		{3 * time.Hour, "3h ago"},
		{2 * 24 * time.Hour, "2d ago"},
		{10 * 24 * time.Hour, "Mar 10, 2024"},
	} {
		require.Equal(t, tc.want, FormatTimestamp(now.Add(-tc.ago), now))
	}
}

func TestIsValidEmail(t *testing.T) {
	require.True(t, IsValidEmail("nina@example.com"))
	require.False(t, IsValidEmail("nina@example"))
	require.False(t, IsValidEmail("nina example@x.io"))
	require.False(t, IsValidEmail(""))
}

func TestSanitizeInput(t *testing.T) {
	require.Equal(t, "scriptalert(1)/script", SanitizeInput("  <script>alert(1)</script> "))
	require.Equal(t, "hello", SanitizeInput("hello"))
}

func TestGenerateMessageID(t *testing.T) {
	require.NotEqual(t, GenerateMessageID(), GenerateMessageID())
}
