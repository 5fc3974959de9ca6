// Package domain contains entity without logic, just meta-data
package domain

import (
	"fmt"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

type UserID string

// Status is the persisted presence state of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// NewUser validates identity claims resolved at authentication time.
func NewUser(id, username string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: empty user id", ErrAuth)
	}
	if len(id) > MaxUserIDLen {
		return User{}, fmt.Errorf("%w: user id too long", ErrAuth)
	}
	if len(username) > MaxUsernameLen {
		username = username[:MaxUsernameLen]
	}
	return User{ID: UserID(id), Username: username}, nil
}
