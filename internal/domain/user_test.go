package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser(" u1 ", "alice")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u1", Username: "alice"}, u)

	u, err = NewUser("u1", strings.Repeat("n", 50))
	require.NoError(t, err)
	assert.Len(t, u.Username, MaxUsernameLen)

	_, err = NewUser("", "alice")
	assert.ErrorIs(t, err, ErrAuth)
	_, err = NewUser(strings.Repeat("x", MaxUserIDLen+1), "alice")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestChannelIsVoice(t *testing.T) {
	assert.True(t, Channel{Type: ChannelVoice}.IsVoice())
	assert.False(t, Channel{Type: ChannelText}.IsVoice())
}
