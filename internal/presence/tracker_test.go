package presence

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
)

func newTestTracker(t *testing.T, timeout time.Duration) *Tracker {
	t.Helper()
	tr := NewTracker(1, timeout, zerolog.Nop())
	t.Cleanup(tr.Close)
	return tr
}

func TestTypingExpiresAfterTimeout(t *testing.T) {
	tr := newTestTracker(t, DefaultTypingTimeout)

	tr.RecordTyping(42, "Alice")
	require.Equal(t, []models.TypingUser{{UserID: 42, UserName: "Alice"}}, tr.Typing())

	assert.Eventually(t, func() bool { return len(tr.Typing()) == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestSelfIsNeverTyping(t *testing.T) {
	tr := newTestTracker(t, time.Second)

	tr.RecordTyping(1, "me")
	assert.Empty(t, tr.Typing())
}

func TestRefreshedTypingOutlivesFirstTimer(t *testing.T) {
	tr := newTestTracker(t, 60*time.Millisecond)

	tr.RecordTyping(42, "Alice")
	time.Sleep(40 * time.Millisecond)
	tr.RecordTyping(42, "")

	time.Sleep(40 * time.Millisecond)
	typing := tr.Typing()
	require.Len(t, typing, 1)
	assert.Equal(t, "Alice", typing[0].UserName)

	assert.Eventually(t, func() bool { return len(tr.Typing()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestTypingKeepsFirstTypedOrder(t *testing.T) {
	tr := newTestTracker(t, time.Minute)

	tr.RecordTyping(3, "c")
	tr.RecordTyping(2, "b")
	tr.RecordTyping(3, "c")

	assert.Equal(t, []models.TypingUser{{UserID: 3, UserName: "c"}, {UserID: 2, UserName: "b"}}, tr.Typing())
}

func TestStoppedTypingAndReset(t *testing.T) {
	tr := newTestTracker(t, time.Minute)
	var changes int32
	tr.OnChange(func() { atomic.AddInt32(&changes, 1) })

	tr.RecordTyping(2, "b")
	tr.RecordTyping(3, "c")
	tr.RecordStoppedTyping(2)
	tr.RecordStoppedTyping(99)
	assert.Equal(t, []models.TypingUser{{UserID: 3, UserName: "c"}}, tr.Typing())

	tr.ResetTyping()
	assert.Empty(t, tr.Typing())
	assert.Equal(t, int32(4), atomic.LoadInt32(&changes))
}

func TestOfflineThenOnlineIsOnline(t *testing.T) {
	tr := newTestTracker(t, time.Second)
	t1 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tr.RecordOffline(7, &t1)
	tr.RecordOnline(7)

	p, ok := tr.Presence(7)
	require.True(t, ok)
	assert.True(t, p.IsOnline)
}

func TestOnlineThenOfflineKeepsLastSeen(t *testing.T) {
	tr := newTestTracker(t, time.Second)
	t1 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tr.RecordOnline(7)
	tr.RecordOffline(7, &t1)

	p, ok := tr.Presence(7)
	require.True(t, ok)
	assert.False(t, p.IsOnline)
	require.NotNil(t, p.LastSeenAt)
	assert.True(t, p.LastSeenAt.Equal(t1))
}

func TestOfflineWithoutTimestampUsesNow(t *testing.T) {
	tr := newTestTracker(t, time.Second)
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.RecordOffline(8, nil)
	p, _ := tr.Presence(8)
	require.NotNil(t, p.LastSeenAt)
	assert.Equal(t, fixed, *p.LastSeenAt)

	_, ok := tr.Presence(1234)
	assert.False(t, ok)
}

func TestComingOnlineClearsLastSeen(t *testing.T) {
	tr := newTestTracker(t, time.Second)
	t1 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tr.RecordOffline(7, &t1)
	tr.RecordOnline(7)
	p, _ := tr.Presence(7)
	assert.True(t, p.IsOnline)
	assert.Nil(t, p.LastSeenAt)

	tr.RecordStatus(8, false, &t1)
	tr.RecordStatus(8, true, &t1)
	p, _ = tr.Presence(8)
	assert.True(t, p.IsOnline)
	assert.Nil(t, p.LastSeenAt)
}

func TestOfflineEventWithoutTimestampKeepsLastSeen(t *testing.T) {
	tr := newTestTracker(t, time.Second)
	t1 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tr.RecordStatus(9, false, &t1)
	tr.RecordStatus(9, false, nil)
	p, _ := tr.Presence(9)
	assert.False(t, p.IsOnline)
	require.NotNil(t, p.LastSeenAt)
	assert.True(t, p.LastSeenAt.Equal(t1))
}
