package types

import (
	"regexp"
	"strings"
)

// Compiled once; validation runs on every inbound frame.
var (
	userIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	lectureIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// DefaultMaxContentBytes bounds private and room chat message bodies.
const DefaultMaxContentBytes = 65536

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidLectureID checks if a lecture room ID meets format requirements.
func IsValidLectureID(lectureID string) bool {
	if len(lectureID) < 1 || len(lectureID) > 100 {
		return false
	}
	return lectureIDRegex.MatchString(lectureID)
}

// ParseRole returns the Role for s or ErrInvalidRole.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleLecturer, RoleDepartmentHead:
		return Role(s), nil
	default:
		return "", ErrInvalidRole
	}
}

// ValidateContent rejects blank bodies and bodies larger than maxBytes.
// A non-positive maxBytes falls back to DefaultMaxContentBytes.
func ValidateContent(content string, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxContentBytes
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > maxBytes {
		return ErrContentTooLarge
	}
	return nil
}

// Validate checks the structural invariants of a message before it is
// persisted.
func (m *Message) Validate() error {
	if !IsValidUserID(m.FromID) || !IsValidUserID(m.ToID) {
		return ErrInvalidUserID
	}
	if m.FromID == m.ToID {
		return ErrSelfMessage
	}
	return ValidateContent(m.Content, 0)
}
