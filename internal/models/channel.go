package models

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

type Channel struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	IsPrivate     bool      `json:"isPrivate"`
	CreatedBy     string    `json:"createdBy"`
	Members       []string  `json:"members"`
	Admins        []string  `json:"admins"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	MessageCount  int       `json:"messageCount"`
}

type CreateChannelRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsPrivate   bool     `json:"isPrivate"`
	Members     []string `json:"members"`
}

// ChannelUpdate is a partial channel update, nil fields are left untouched
type ChannelUpdate struct {
	Name        *string
	Description *string
	IsPrivate   *bool
	Members     []string
	Admins      []string
}

// ChannelMember pairs a user with a channel and the role held there. It is derived from
// Channel.Members and Channel.Admins and never stored on its own.
type ChannelMember struct {
	UID       string    `json:"uid"`
	ChannelID string    `json:"channelId"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Apply returns a copy of c with the update applied and UpdatedAt set to now
func (up ChannelUpdate) Apply(c Channel, now time.Time) Channel {
	c = c.Clone()
	if up.Name != nil {
		c.Name = *up.Name
	}
	if up.Description != nil {
		c.Description = *up.Description
	}
	if up.IsPrivate != nil {
		c.IsPrivate = *up.IsPrivate
	}
	if up.Members != nil {
		c.Members = cloneStrings(up.Members)
	}
	if up.Admins != nil {
		c.Admins = cloneStrings(up.Admins)
	}
	c.UpdatedAt = now
	return c
}

// Fields returns the document patch for the update including updatedAt
func (up ChannelUpdate) Fields(now time.Time) map[string]interface{} {
	f := map[string]interface{}{"updatedAt": now}
	if up.Name != nil {
		f["name"] = *up.Name
	}
	if up.Description != nil {
		f["description"] = *up.Description
	}
	if up.IsPrivate != nil {
		f["isPrivate"] = *up.IsPrivate
	}
	if up.Members != nil {
		f["members"] = cloneStrings(up.Members)
	}
	if up.Admins != nil {
		f["admins"] = cloneStrings(up.Admins)
	}
	return f
}

// Clone returns a deep copy of c
func (c Channel) Clone() Channel {
	c.Members = cloneStrings(c.Members)
	c.Admins = cloneStrings(c.Admins)
	return c
}

func (c Channel) HasMember(uid string) bool {
	return contains(c.Members, uid)
}

func (c Channel) HasAdmin(uid string) bool {
	return contains(c.Admins, uid)
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
