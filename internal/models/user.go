package models

import "time"

type User struct {
	UID            string    `json:"uid"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	PhotoURL       string    `json:"photoURL,omitempty"`
	IsOnline       bool      `json:"isOnline"`
	LastSeen       time.Time `json:"lastSeen"`
	Channels       []string  `json:"channels"`
	DirectMessages []string  `json:"directMessages"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// UserUpdate is a partial user update, nil fields are left untouched
type UserUpdate struct {
	DisplayName    *string
	PhotoURL       *string
	IsOnline       *bool
	LastSeen       *time.Time
	Channels       []string
	DirectMessages []string
}

// Apply returns a copy of u with the update applied and UpdatedAt set to now
func (up UserUpdate) Apply(u User, now time.Time) User {
	if up.DisplayName != nil {
		u.DisplayName = *up.DisplayName
	}
	if up.PhotoURL != nil {
		u.PhotoURL = *up.PhotoURL
	}
	if up.IsOnline != nil {
		u.IsOnline = *up.IsOnline
	}
	if up.LastSeen != nil {
		u.LastSeen = *up.LastSeen
	}
	if up.Channels != nil {
		u.Channels = cloneStrings(up.Channels)
	} else {
		u.Channels = cloneStrings(u.Channels)
	}
	if up.DirectMessages != nil {
		u.DirectMessages = cloneStrings(up.DirectMessages)
	} else {
		u.DirectMessages = cloneStrings(u.DirectMessages)
	}
	u.UpdatedAt = now
	return u
}

// Fields returns the document patch for the update including updatedAt
func (up UserUpdate) Fields(now time.Time) map[string]interface{} {
	f := map[string]interface{}{"updatedAt": now}
	if up.DisplayName != nil {
		f["displayName"] = *up.DisplayName
	}
	if up.PhotoURL != nil {
		f["photoURL"] = *up.PhotoURL
	}
	if up.IsOnline != nil {
		f["isOnline"] = *up.IsOnline
	}
	if up.LastSeen != nil {
		f["lastSeen"] = *up.LastSeen
	}
	if up.Channels != nil {
		f["channels"] = cloneStrings(up.Channels)
	}
	if up.DirectMessages != nil {
		f["directMessages"] = cloneStrings(up.DirectMessages)
	}
	return f
}

// Clone returns a deep copy of u
func (u User) Clone() User {
	u.Channels = cloneStrings(u.Channels)
	u.DirectMessages = cloneStrings(u.DirectMessages)
	return u
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
