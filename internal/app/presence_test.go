package app

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/core/mocks"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/dkeye/vidtalk/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPersister struct {
	mu   sync.Mutex
	jobs []string
}

func (p *recordingPersister) Submit(name string, _ func(context.Context, core.Store) error) bool {
	p.mu.Lock()
	p.jobs = append(p.jobs, name)
	p.mu.Unlock()
	return true
}

func TestPresenceTwoTabs(t *testing.T) {
	reg := NewRegistry()
	persist := &recordingPersister{}
	p := &Presence{Registry: reg, Out: &Dispatcher{Registry: reg}, Persist: persist}

	watcher := mocks.NewConn()
	reg.Register("b1", bob, watcher)

	connect := func(cid core.ConnID) *mocks.Conn {
		c := mocks.NewConn()
		p.OnConnect(alice.ID, reg.Register(cid, alice, c))
		return c
	}
	disconnect := func(cid core.ConnID) {
		uid, remaining, err := reg.Unregister(cid)
		require.NoError(t, err)
		p.OnDisconnect(uid, remaining)
	}

	tab1 := connect("a1")
	tab2 := connect("a2")
	assert.Equal(t, 1, watcher.Count(protocol.OutUserStatus), "second tab is silent")
	assert.Empty(t, tab1.Frames(), "own connections are skipped")

	disconnect("a1")
	assert.Equal(t, 1, watcher.Count(protocol.OutUserStatus), "one tab still open")

	disconnect("a2")
	assert.Equal(t, []string{protocol.OutUserStatus, protocol.OutUserStatus, protocol.OutDirectTypingStop}, watcher.Types())

	var status protocol.UserStatus
	require.True(t, watcher.Last(protocol.OutUserStatus, &status))
	assert.Equal(t, domain.StatusOffline, status.Status)
	assert.Equal(t, alice.ID, status.UserID)
	assert.Empty(t, tab2.Frames())

	assert.Equal(t, []string{"user_status", "user_status", "user_status"}, persist.jobs)
}

func TestPresenceAttachDetach(t *testing.T) {
	reg := NewRegistry()
	p := &Presence{Registry: reg, Out: &Dispatcher{Registry: reg}}
	watcher := mocks.NewConn()
	reg.Register("b1", bob, watcher)

	assert.True(t, p.Attach("a1", alice, mocks.NewConn()))
	assert.True(t, p.Online(alice.ID))

	// a1 deregistered but its presence step has not run yet when a2 attaches
	_, remaining, err := reg.Unregister("a1")
	require.NoError(t, err)
	assert.True(t, p.Attach("a2", alice, mocks.NewConn()))
	p.OnDisconnect(alice.ID, remaining)
	assert.True(t, p.Online(alice.ID))
	assert.Equal(t, 1, watcher.Count(protocol.OutUserStatus))

	uid, remaining, err := p.Detach("a2")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, uid)
	assert.Zero(t, remaining)
	assert.False(t, p.Online(alice.ID))
	assert.Equal(t, 2, watcher.Count(protocol.OutUserStatus))

	_, _, err = p.Detach("a2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
