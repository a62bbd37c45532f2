package stores

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"
)

var emailRegexp = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ConversationID returns the key of the direct conversation between two users.
// It is the same for either argument order.
func ConversationID(user1, user2 string) string {
	ids := []string{user1, user2}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// FormatTimestamp renders t relative to now for display
func FormatTimestamp(t, now time.Time) string {
	diff := now.Sub(t)
	mins := int(diff / time.Minute)
	hours := int(diff / time.Hour)
	days := int(diff / (24 * time.Hour))

	switch {
	case mins < 1:
		return "just now"
	case mins < 60:
		return fmt.Sprintf("%dm ago", mins)
	case hours < 24:
		return fmt.Sprintf("%dh ago", hours)
	case days < 7:
		return fmt.Sprintf("%dd ago", days)
	}
	return t.Format("Jan 2, 2006")
}

func IsValidEmail(email string) bool {
	return emailRegexp.MatchString(email)
}

// SanitizeInput trims the input and strips angle brackets
func SanitizeInput(input string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(strings.TrimSpace(input))
}

// GenerateMessageID returns a unique, time-sortable id
func GenerateMessageID() string {
	return xid.New().String()
}
