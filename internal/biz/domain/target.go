package domain

import "context"

// Target is a reply destination
type Target interface {
	ID() string
	Say(ctx context.Context, text string) error
}

// Room is a group chat. Having a topic is what distinguishes a group from a single contact.
type Room interface {
	Target
	Topic(ctx context.Context) (string, error)
}

// Contact is a single chat user
type Contact interface {
	Target
	Name() string
	Alias() string
}

// IsGroup reports whether the target is a group chat
func IsGroup(t Target) bool {
	_, ok := t.(Room)
	return ok
}

// DisplayName returns the alias when set, otherwise the profile name
func DisplayName(c Contact) string {
	if c == nil {
		return ""
	}
	if alias := c.Alias(); alias != "" {
		return alias
	}
	return c.Name()
}
