package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/vidtalk/internal/adapters/rtc"
	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/dkeye/vidtalk/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceAcrossTabs(t *testing.T) {
	h := newHarness(t)
	_, watcher := h.connect("b1", bob)

	tab1, _ := h.connect("a1", alice)
	tab2, _ := h.connect("a2", alice)
	assert.Equal(t, 1, watcher.Count(protocol.OutUserStatus))
	assert.Equal(t, domain.StatusOnline, h.store.status["alice"])

	h.o.Disconnect(tab1)
	assert.Equal(t, 1, watcher.Count(protocol.OutUserStatus), "alice still has a tab open")
	assert.Equal(t, domain.StatusOnline, h.store.status["alice"])

	h.o.Disconnect(tab2)
	assert.Equal(t, 2, watcher.Count(protocol.OutUserStatus))
	var st protocol.UserStatus
	require.True(t, watcher.Last(protocol.OutUserStatus, &st))
	assert.Equal(t, protocol.UserStatus{UserID: "alice", Status: domain.StatusOffline}, st)
	assert.Equal(t, domain.StatusOffline, h.store.status["alice"])
}

func TestDisconnectLeavesEverything(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.connect("a1", alice)
	b, bobConn := h.connect("b1", bob)

	h.send(sess, protocol.EvServerJoin, "s1")
	for _, ch := range []string{"t1", "t2", "t3", "v1"} {
		h.send(sess, protocol.EvChannelJoin, ch)
	}
	require.Len(t, h.o.Rooms.RoomsOf("a1"), 6, "user room, server room and four channels")
	require.Len(t, h.o.Voice.PresenceOf("v1"), 1)

	h.send(b, protocol.EvChannelJoin, "v1")
	bobConn.Reset()

	h.o.Disconnect(sess)

	assert.Empty(t, h.o.Rooms.RoomsOf("a1"))
	for _, key := range []core.RoomKey{core.ServerRoom("s1"), core.ChannelRoom("t1"), core.ChannelRoom("t2"), core.ChannelRoom("t3"), core.UserRoom("alice")} {
		assert.False(t, h.o.Rooms.IsMember(key, "a1"), key)
	}
	present := h.o.Voice.PresenceOf("v1")
	require.Len(t, present, 1)
	assert.Equal(t, domain.UserID("bob"), present[0].UserID)
	assert.Equal(t, 1, bobConn.Count(protocol.OutVoiceUserLeft))
	assert.NotContains(t, h.store.voiceRows(), "v1/alice")
	assert.Contains(t, h.store.voiceRows(), "v1/bob")

	_, err := h.o.Registry.UserFor("a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	_, watcher := h.connect("b1", bob)
	sess, _ := h.connect("a1", alice)

	h.o.Disconnect(sess)
	h.o.Disconnect(sess)
	assert.Equal(t, 2, watcher.Count(protocol.OutUserStatus), "online then a single offline")
	assert.Equal(t, StateDisconnected, sess.State())

	h.send(sess, protocol.EvServerJoin, "s1")
	assert.False(t, h.o.Rooms.IsMember(core.ServerRoom("s1"), "a1"), "events after disconnect are ignored")
}

func TestRelayToOfflineUserIsSilent(t *testing.T) {
	h := newHarness(t)
	sess, conn := h.connect("a1", alice)

	h.send(sess, protocol.EvSignal, map[string]any{"userId": "bob", "signal": map[string]string{"type": "offer", "sdp": "x"}})
	assert.Empty(t, conn.Frames())
}

func TestSignalRelaysToTarget(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.connect("a1", alice)
	_, bobConn := h.connect("b1", bob)
	bobConn.Reset()

	h.send(sess, protocol.EvSignal, map[string]any{"userId": "bob", "signal": map[string]string{"type": "answer", "sdp": "x"}})
	var got protocol.SignalOut
	require.True(t, bobConn.Last(protocol.OutSignal, &got))
	assert.Equal(t, domain.UserID("alice"), got.UserID)
	assert.JSONEq(t, `{"type":"answer","sdp":"x"}`, string(got.Signal))
}

func TestSignalIsRelayedOpaque(t *testing.T) {
	h := newHarness(t)
	h.o.CheckSignal = rtc.CheckSignal
	sess, conn := h.connect("a1", alice)
	_, bobConn := h.connect("b1", bob)

	payloads := []string{
		`"opaque-token"`,
		`{"sdp":{"type":"offer","sdp":"v=0"}}`,
		`{"type":"offer","sdp":"not-parsed-by-pion"}`,
		`{"ice":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0"}}`,
		`{"type":"answer","sdp":"v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}`,
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			bobConn.Reset()
			conn.Reset()
			h.send(sess, protocol.EvSignal, map[string]any{"userId": "bob", "signal": json.RawMessage(p)})

			var got protocol.SignalOut
			require.True(t, bobConn.Last(protocol.OutSignal, &got))
			assert.Equal(t, domain.UserID("alice"), got.UserID)
			assert.JSONEq(t, p, string(got.Signal))
			assert.Zero(t, conn.Count(protocol.OutError))
		})
	}
}

func TestPresenceSurvivesReconnectDuringTeardown(t *testing.T) {
	h := newHarness(t)
	_, watcher := h.connect("b1", bob)
	h.connect("a1", alice)

	// tab1 is halfway through its teardown when tab2 arrives
	h.o.Rooms.LeaveAll("a1")
	_, remaining, err := h.o.Registry.Unregister("a1")
	require.NoError(t, err)
	require.Zero(t, remaining)
	tab2, _ := h.connect("a2", alice)
	h.o.Presence.OnDisconnect("alice", remaining)

	assert.Equal(t, []core.ConnID{"a2"}, h.o.Registry.ConnectionsFor("alice"))
	assert.True(t, h.o.Presence.Online("alice"))
	assert.Equal(t, 1, watcher.Count(protocol.OutUserStatus), "no offline/online flicker")
	var st protocol.UserStatus
	require.True(t, watcher.Last(protocol.OutUserStatus, &st))
	assert.Equal(t, domain.StatusOnline, st.Status)
	assert.Equal(t, domain.StatusOnline, h.store.statusOf("alice"))

	h.o.Disconnect(tab2)
	require.True(t, watcher.Last(protocol.OutUserStatus, &st))
	assert.Equal(t, domain.StatusOffline, st.Status)
	assert.Equal(t, domain.StatusOffline, h.store.statusOf("alice"))
}

func TestPresenceUnderParallelTabs(t *testing.T) {
	churn := func(h *harness) {
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range 25 {
					sess, _ := h.connect(core.ConnID(fmt.Sprintf("a-%d-%d", i, j)), alice)
					h.send(sess, protocol.EvPing, nil)
					h.o.Disconnect(sess)
				}
			}()
		}
		wg.Wait()
	}

	t.Run("all tabs closed", func(t *testing.T) {
		h := newHarness(t)
		_, watcher := h.connect("b1", bob)
		churn(h)

		assert.Empty(t, h.o.Registry.ConnectionsFor("alice"))
		assert.False(t, h.o.Presence.Online("alice"))
		var st protocol.UserStatus
		require.True(t, watcher.Last(protocol.OutUserStatus, &st))
		assert.Equal(t, domain.StatusOffline, st.Status)
		assert.Equal(t, domain.StatusOffline, h.store.statusOf("alice"))
	})

	t.Run("one tab stays", func(t *testing.T) {
		h := newHarness(t)
		_, watcher := h.connect("b1", bob)
		h.connect("anchor", alice)
		churn(h)

		assert.Equal(t, []core.ConnID{"anchor"}, h.o.Registry.ConnectionsFor("alice"))
		assert.True(t, h.o.Presence.Online("alice"))
		assert.Equal(t, 1, watcher.Count(protocol.OutUserStatus))
		assert.Equal(t, domain.StatusOnline, h.store.statusOf("alice"))
	})
}

func TestVoiceLeftSkipsOwnTabs(t *testing.T) {
	h := newHarness(t)
	call, callConn := h.connect("a1", alice)
	idle, _ := h.connect("a2", alice)
	b, bobConn := h.connect("b1", bob)

	h.send(call, protocol.EvChannelJoin, "v1")
	h.send(b, protocol.EvChannelJoin, "v1")
	h.send(idle, protocol.EvChannelJoin, "t1")
	callConn.Reset()
	bobConn.Reset()

	h.o.Disconnect(idle)

	assert.Zero(t, callConn.Count(protocol.OutVoiceUserLeft), "alice is not told she left")
	assert.Equal(t, 1, bobConn.Count(protocol.OutVoiceUserLeft))
	assert.Len(t, h.o.Voice.PresenceOf("v1"), 1)
}

func TestVoiceJoinIsIdempotent(t *testing.T) {
	h := newHarness(t)
	sess, conn := h.connect("a1", alice)
	b, bobConn := h.connect("b1", bob)
	h.send(b, protocol.EvChannelJoin, "v1")
	bobConn.Reset()

	h.send(sess, protocol.EvChannelJoin, "v1")
	h.send(sess, protocol.EvChannelJoin, "v1")

	assert.Len(t, h.o.Voice.PresenceOf("v1"), 2)
	assert.Equal(t, 1, bobConn.Count(protocol.OutVoiceUserJoined))
	assert.Equal(t, 2, conn.Count(protocol.OutVoiceConnectedUsers))
}

func TestTwoUserVoiceCall(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.connect("a1", alice)
	b, bConn := h.connect("b1", bob)

	h.send(a, protocol.EvChannelJoin, "v1")
	var users []protocol.ConnectedUser
	require.True(t, aConn.Last(protocol.OutVoiceConnectedUsers, &users))
	assert.Empty(t, users, "first joiner gets an empty list")

	h.send(b, protocol.EvChannelJoin, "v1")
	require.True(t, bConn.Last(protocol.OutVoiceConnectedUsers, &users))
	require.Len(t, users, 1)
	assert.Equal(t, protocol.ConnectedUser{ID: "alice", Username: "Alice"}, users[0])

	var peer protocol.VoicePeer
	require.True(t, aConn.Last(protocol.OutVoiceUserJoined, &peer))
	assert.Equal(t, protocol.VoicePeer{UserID: "bob", Username: "Bob"}, peer)
	assert.Zero(t, bConn.Count(protocol.OutVoiceUserJoined), "joiner is not told about itself")

	h.send(b, protocol.EvVoiceMute, map[string]any{"channelId": "v1", "muted": true})
	var mute protocol.VoiceMuteUpdate
	require.True(t, aConn.Last(protocol.OutVoiceMuteUpdate, &mute))
	assert.Equal(t, protocol.VoiceMuteUpdate{UserID: "bob", Muted: true}, mute)
	assert.Zero(t, bConn.Count(protocol.OutVoiceMuteUpdate))
	assert.True(t, h.store.voiceRows()["v1/bob"])

	h.send(b, protocol.EvVoiceVideo, map[string]any{"channelId": "v1", "videoOff": true})
	var video protocol.VoiceVideoUpdate
	require.True(t, aConn.Last(protocol.OutVoiceVideoUpdate, &video))
	assert.True(t, video.VideoOff)

	h.o.Disconnect(b)
	require.True(t, aConn.Last(protocol.OutVoiceUserLeft, &peer))
	assert.Equal(t, domain.UserID("bob"), peer.UserID)
	assert.Len(t, h.o.Voice.PresenceOf("v1"), 1)
}

func TestVoiceJoinWithCapabilities(t *testing.T) {
	h := newHarness(t)
	a, _ := h.connect("a1", alice)
	b, bConn := h.connect("b1", bob)

	h.send(a, protocol.EvVoiceJoin, map[string]any{"channelId": "v1", "hasAudio": false, "hasVideo": true})
	h.send(b, protocol.EvVoiceJoin, map[string]any{"channelId": "v1"})

	var users []protocol.ConnectedUser
	require.True(t, bConn.Last(protocol.OutVoiceConnectedUsers, &users))
	require.Len(t, users, 1)
	assert.True(t, users[0].Muted)
	assert.False(t, users[0].VideoOff)
	assert.True(t, h.store.voiceRows()["v1/alice"])
}

func TestVoiceJoinRejectsTextChannel(t *testing.T) {
	h := newHarness(t)
	a, conn := h.connect("a1", alice)

	h.send(a, protocol.EvVoiceJoin, map[string]any{"channelId": "t1"})
	var e protocol.Error
	require.True(t, conn.Last(protocol.OutError, &e))
	assert.Equal(t, protocol.CodeNotVoice, e.Code)
	assert.Equal(t, protocol.EvVoiceJoin, e.Event)
	assert.Zero(t, h.o.Voice.Channels())
}

func TestVoiceMigrationLeavesOldChannel(t *testing.T) {
	h := newHarness(t)
	a, _ := h.connect("a1", alice)
	b, bConn := h.connect("b1", bob)
	h.send(b, protocol.EvChannelJoin, "v1")
	h.send(a, protocol.EvChannelJoin, "v1")
	bConn.Reset()

	h.send(a, protocol.EvChannelJoin, "v2")

	assert.Equal(t, 1, bConn.Count(protocol.OutVoiceUserLeft))
	ch, ok := h.o.Voice.ChannelOf("alice")
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID("v2"), ch)
	assert.False(t, h.o.Rooms.IsMember(core.ChannelRoom("v1"), "a1"))
	assert.NotContains(t, h.store.voiceRows(), "v1/alice")
	assert.Contains(t, h.store.voiceRows(), "v2/alice")
}

func TestChannelLeaveEndsVoice(t *testing.T) {
	h := newHarness(t)
	a, _ := h.connect("a1", alice)
	b, bConn := h.connect("b1", bob)
	h.send(a, protocol.EvChannelJoin, "v1")
	h.send(b, protocol.EvChannelJoin, "v1")

	h.send(a, protocol.EvChannelLeave, "v1")
	assert.Equal(t, 1, bConn.Count(protocol.OutVoiceUserLeft))
	assert.Len(t, h.o.Voice.PresenceOf("v1"), 1)

	h.send(b, protocol.EvVoiceLeave, map[string]any{"channelId": "v1"})
	assert.Zero(t, h.o.Voice.Channels())
	assert.Empty(t, h.store.voiceRows())
}

func TestPermissionChecks(t *testing.T) {
	h := newHarness(t)
	m, conn := h.connect("m1", mallo)

	h.send(m, protocol.EvServerJoin, "s1")
	var e protocol.Error
	require.True(t, conn.Last(protocol.OutError, &e))
	assert.Equal(t, protocol.CodeForbidden, e.Code)
	assert.False(t, h.o.Rooms.IsMember(core.ServerRoom("s1"), "m1"))

	conn.Reset()
	h.send(m, protocol.EvChannelJoin, "t1")
	require.True(t, conn.Last(protocol.OutError, &e))
	assert.Equal(t, protocol.CodeForbidden, e.Code)
	assert.False(t, h.o.Rooms.IsMember(core.ChannelRoom("t1"), "m1"))

	conn.Reset()
	h.send(m, protocol.EvServerLeave, "s1")
	assert.Empty(t, conn.Frames(), "leave never checks")
}

func TestUnknownChannelIsNoop(t *testing.T) {
	h := newHarness(t)
	a, conn := h.connect("a1", alice)

	h.send(a, protocol.EvChannelJoin, "nope")
	assert.Empty(t, conn.Frames())
	assert.Len(t, h.o.Rooms.RoomsOf("a1"), 1)
}

func TestChannelMessage(t *testing.T) {
	h := newHarness(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.o.Now = func() time.Time { return fixed }
	a, aConn := h.connect("a1", alice)
	b, bConn := h.connect("b1", bob)
	_, carolConn := h.connect("c1", carol)

	h.send(a, protocol.EvMessageChannel, map[string]any{"channelId": "t1", "content": "hi"})
	var e protocol.Error
	require.True(t, aConn.Last(protocol.OutError, &e), "must join before posting")
	assert.Equal(t, protocol.CodeForbidden, e.Code)

	h.send(a, protocol.EvChannelJoin, "t1")
	h.send(b, protocol.EvChannelJoin, "t1")
	h.send(a, protocol.EvMessageChannel, map[string]any{"id": "m1", "channelId": "t1", "content": "hi"})

	var msg protocol.ChannelMessage
	require.True(t, bConn.Last(protocol.OutMessageChannel, &msg))
	assert.Equal(t, protocol.ChannelMessage{
		ID: "m1", ChannelID: "t1", SenderID: "alice", SenderName: "Alice",
		Content: "hi", Timestamp: "2024-05-01T12:00:00.000Z",
	}, msg)
	assert.Zero(t, aConn.Count(protocol.OutMessageChannel), "sender is excluded")
	assert.Zero(t, carolConn.Count(protocol.OutMessageChannel), "non-members hear nothing")

	h.send(a, protocol.EvMessageChannel, map[string]any{"channelId": "t1", "content": "no id"})
	require.True(t, bConn.Last(protocol.OutMessageChannel, &msg))
	assert.NotEmpty(t, msg.ID)
}

func TestDirectMessage(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.connect("a1", alice)
	_, tab1 := h.connect("b1", bob)
	_, tab2 := h.connect("b2", bob)

	h.send(a, protocol.EvMessageDirect, map[string]any{"id": "d1", "receiverId": "bob", "content": "yo"})
	for _, c := range []interface{ Count(string) int }{tab1, tab2, aConn} {
		assert.Equal(t, 1, c.Count(protocol.OutDirectMessage))
	}
	var dm protocol.DirectMessage
	require.True(t, tab1.Last(protocol.OutDirectMessage, &dm))
	assert.Equal(t, "d1", dm.ID)
	assert.Equal(t, domain.UserID("alice"), dm.SenderID)
	assert.Equal(t, "Alice", dm.Username)
	assert.False(t, dm.Read)

	aConn.Reset()
	h.send(a, protocol.EvMessageDirect, map[string]any{"receiverId": "alice", "content": "note to self"})
	assert.Equal(t, 1, aConn.Count(protocol.OutDirectMessage), "self messages are delivered once")
}

func TestTypingIndicators(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.connect("a1", alice)
	b, bConn := h.connect("b1", bob)
	h.send(a, protocol.EvChannelJoin, "t1")
	h.send(b, protocol.EvChannelJoin, "t1")

	h.send(a, protocol.EvTypingStart, map[string]any{"channelId": "t1"})
	h.send(a, protocol.EvTypingStop, map[string]any{"channelId": "t1"})
	assert.Equal(t, []string{protocol.OutTypingStart, protocol.OutTypingStop}, bConn.Types()[len(bConn.Types())-2:])
	assert.Zero(t, aConn.Count(protocol.OutTypingStart))

	h.send(b, protocol.EvDirectTypingStart, map[string]any{"userId": "alice"})
	var notice protocol.TypingNotice
	require.True(t, aConn.Last(protocol.OutDirectTypingStart, &notice))
	assert.Equal(t, protocol.TypingNotice{UserID: "bob", Username: "Bob"}, notice)
}

func TestBadPayloadsAreReported(t *testing.T) {
	h := newHarness(t)
	a, conn := h.connect("a1", alice)

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `{`, protocol.CodeBadPayload},
		{"missing field", `{"type":"message:channel","data":{"channelId":"t1"}}`, protocol.CodeBadPayload},
		{"mute without flag", `{"type":"voice:mute","data":{"channelId":"v1"}}`, protocol.CodeBadPayload},
		{"unknown", `{"type":"server:delete","data":"s1"}`, protocol.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn.Reset()
			h.o.Handle(context.Background(), a, []byte(tt.raw))
			var e protocol.Error
			require.True(t, conn.Last(protocol.OutError, &e))
			assert.Equal(t, tt.code, e.Code)
		})
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.store.panicOn = "t1"
	a, conn := h.connect("a1", alice)

	assert.NotPanics(t, func() { h.send(a, protocol.EvChannelJoin, "t1") })
	h.send(a, protocol.EvPing, nil)
	assert.Equal(t, 1, conn.Count(protocol.OutPong), "connection keeps working")
}

func TestDirectJoinTouchesContact(t *testing.T) {
	h := newHarness(t)
	a, conn := h.connect("a1", alice)

	h.send(a, protocol.EvDirectJoin, "bob")
	assert.Equal(t, []string{"alice>bob"}, h.store.contacts)
	assert.Empty(t, conn.Frames())
}
