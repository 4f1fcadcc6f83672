// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUsernameLen = 36
	// MaxAuthorLen is the widest display name the chat store can hold.
	MaxAuthorLen = 64

	// DefaultUsername is used when neither the join payload nor the
	// identity collaborator supplied a name.
	DefaultUsername = "Guest"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser binds a display name to an already assigned connection id.
func NewUser(id UserID, username string) (*User, error) {
	u := &User{ID: id}
	if err := u.SetUsername(username); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetUsername(username string) error {
	name, err := NormalizeUsername(username, MaxUsernameLen)
	if err != nil {
		return err
	}
	u.Username = name
	return nil
}

// NormalizeUsername trims the name and checks it against max runes.
func NormalizeUsername(username string, max int) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return "", ErrUsernameEmpty
	}
	if max > 0 && utf8.RuneCountInString(name) > max {
		return "", ErrUsernameTooLong
	}
	return name, nil
}
