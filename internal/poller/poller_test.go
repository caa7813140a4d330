package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaphunt/snaphunt/internal/forum"
	"github.com/snaphunt/snaphunt/internal/protocol"
	"github.com/snaphunt/snaphunt/internal/thread"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type pollResponse struct {
	comments []forum.Comment
	err      error
}

// scriptedGateway replays responses per post ID, repeating the last one once
// the script runs out. It honors context cancellation the way a real HTTP
// client would.
type scriptedGateway struct {
	mu      sync.Mutex
	scripts map[string][]pollResponse
	calls   map[string]int
	sinces  map[string][]time.Time

	entered chan struct{} // signaled on call entry when set
	hold    chan struct{} // blocks calls until closed when set
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		scripts: make(map[string][]pollResponse),
		calls:   make(map[string]int),
		sinces:  make(map[string][]time.Time),
	}
}

func (g *scriptedGateway) script(postID string, responses ...pollResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[postID] = responses
}

func (g *scriptedGateway) ListComments(ctx context.Context, postID string, since time.Time) ([]forum.Comment, error) {
	if g.entered != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
	}
	if g.hold != nil {
		select {
		case <-g.hold:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls[postID]
	g.calls[postID]++
	g.sinces[postID] = append(g.sinces[postID], since)

	script := g.scripts[postID]
	if len(script) == 0 {
		return nil, nil
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i].comments, script[i].err
}

func (g *scriptedGateway) callCount(postID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[postID]
}

func (g *scriptedGateway) sinceArgs(postID string) []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.sinces[postID]...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) callback(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func testThread(t *testing.T, postID string) *thread.Thread {
	t.Helper()
	th, err := thread.Restore(postID, "t1_game_"+postID, "", "t1_status_"+postID, nil)
	require.NoError(t, err)
	th.Touch(testBase)
	return th
}

func testConfig(clock clockwork.Clock) Config {
	return Config{
		Interval:    5 * time.Second,
		BackoffBase: 2 * time.Second,
		MaxInterval: 30 * time.Second,
		MaxRetries:  3,
		Clock:       clock,
	}
}

func TestStartValidation(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testBase)
	e := NewEngine(newScriptedGateway(), testConfig(fc))

	t.Run("nil thread", func(t *testing.T) {
		_, err := e.Start(nil, func(Event) {})
		assert.ErrorIs(t, err, ErrInvalidThread)
	})

	t.Run("thread without post id", func(t *testing.T) {
		_, err := e.Start(&thread.Thread{}, func(Event) {})
		assert.ErrorIs(t, err, ErrInvalidThread)
		assert.Nil(t, e.Status(Key("")))
	})

	t.Run("nil callback", func(t *testing.T) {
		_, err := e.Start(testThread(t, "t3_p1"), nil)
		assert.ErrorIs(t, err, ErrNilCallback)
	})

	t.Run("duplicate start", func(t *testing.T) {
		th := testThread(t, "t3_dup")
		key, err := e.Start(th, func(Event) {})
		require.NoError(t, err)
		assert.Equal(t, "game_t3_dup", key)

		_, err = e.Start(th, func(Event) {})
		assert.ErrorIs(t, err, ErrAlreadyActive)

		// The original loop is untouched.
		st := e.Status(key)
		require.NotNil(t, st)
		assert.True(t, st.Active)
		e.Stop(key)
	})
}

func TestDeliveryInCreationOrder(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testBase)
	gw := newScriptedGateway()
	th := testThread(t, "t3_p1")
	gameID := th.GameCommentID()

	// Fetch order deliberately scrambles creation order, with human chatter
	// mixed in. Chatter carries the newest timestamp so it must still move
	// the fetch watermark.
	gw.script("t3_p1",
		pollResponse{comments: []forum.Comment{
			{ID: "c3", ParentID: gameID, Body: protocol.EncodeRoundStart(3, "Neon signs", time.Minute), CreatedAt: testBase.Add(3 * time.Second)},
			{ID: "c1", ParentID: gameID, Body: protocol.EncodeRoundStart(1, "Red car", time.Minute), CreatedAt: testBase.Add(1 * time.Second)},
			{ID: "noise", ParentID: gameID, Body: "good luck everyone!", CreatedAt: testBase.Add(90 * time.Second)},
			{ID: "c2", ParentID: gameID, Body: protocol.EncodeRoundStart(2, "Open hydrant", time.Minute), CreatedAt: testBase.Add(2 * time.Second)},
		}},
		pollResponse{},
	)

	e := NewEngine(gw, testConfig(fc))
	r := &recorder{}
	key, err := e.Start(th, r.callback)
	require.NoError(t, err)
	defer e.StopAll()

	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)

	require.Eventually(t, func() bool { return r.len() == 3 }, time.Second, 5*time.Millisecond)
	events := r.snapshot()
	for i, wantRound := range []int{1, 2, 3} {
		require.IsType(t, &protocol.RoundStarted{}, events[i].Update)
		assert.Equal(t, wantRound, events[i].Update.(*protocol.RoundStarted).Round)
		assert.Equal(t, "t3_p1", events[i].PostID)
	}

	require.Eventually(t, func() bool {
		st := e.Status(key)
		return st != nil && !st.LastSuccess.IsZero()
	}, time.Second, 5*time.Millisecond)
	st := e.Status(key)
	assert.Zero(t, st.ErrorCount)
	assert.Equal(t, 5*time.Second, st.NextInterval)

	// Next tick fetches only past the newest comment seen, chatter included.
	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return gw.callCount("t3_p1") == 2 }, time.Second, 5*time.Millisecond)

	sinces := gw.sinceArgs("t3_p1")
	require.Len(t, sinces, 2)
	assert.Equal(t, testBase, sinces[0])
	assert.Equal(t, testBase.Add(90*time.Second), sinces[1])
	assert.Equal(t, 3, r.len())
}

func TestBackoffAndCircuitBreaker(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testBase)
	gw := newScriptedGateway()
	gw.script("t3_p1", pollResponse{err: errors.New("forum unreachable")})

	e := NewEngine(gw, testConfig(fc))
	key, err := e.Start(testThread(t, "t3_p1"), func(Event) {})
	require.NoError(t, err)

	type step struct {
		advance      time.Duration
		wantErrors   int
		wantInterval time.Duration
	}
	steps := []step{
		{advance: 5 * time.Second, wantErrors: 1, wantInterval: 2 * time.Second},
		{advance: 2 * time.Second, wantErrors: 2, wantInterval: 4 * time.Second},
		{advance: 4 * time.Second, wantErrors: 3, wantInterval: 8 * time.Second},
	}
	for _, s := range steps {
		fc.BlockUntil(1)
		fc.Advance(s.advance)
		fc.BlockUntil(1)

		st := e.Status(key)
		require.NotNil(t, st)
		assert.True(t, st.Active)
		assert.Equal(t, s.wantErrors, st.ErrorCount)
		assert.Equal(t, s.wantInterval, st.NextInterval)
	}

	// The failure after the last tolerated one trips the breaker: the loop
	// is gone without Stop ever being called.
	fc.Advance(8 * time.Second)
	require.Eventually(t, func() bool { return e.Status(key) == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, gw.callCount("t3_p1"))

	// Status reads for removed keys are nil, and explicit re-initialization
	// is the only way back in.
	assert.False(t, e.Stop(key))
	_, err = e.Start(testThread(t, "t3_p1"), func(Event) {})
	assert.NoError(t, err)
	e.StopAll()
}

func TestBackoffCapsAtMaxInterval(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testBase)
	gw := newScriptedGateway()
	gw.script("t3_p1", pollResponse{err: errors.New("still down")})

	cfg := testConfig(fc)
	cfg.BackoffBase = 4 * time.Second
	cfg.MaxInterval = 5 * time.Second
	e := NewEngine(gw, cfg)
	key, err := e.Start(testThread(t, "t3_p1"), func(Event) {})
	require.NoError(t, err)
	defer e.StopAll()

	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)
	fc.BlockUntil(1)
	require.Equal(t, 4*time.Second, e.Status(key).NextInterval)

	fc.Advance(4 * time.Second)
	fc.BlockUntil(1)
	assert.Equal(t, 5*time.Second, e.Status(key).NextInterval)
}

func TestStopImmediately(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testBase)
	gw := newScriptedGateway()
	gw.script("t3_p1", pollResponse{comments: []forum.Comment{
		{ID: "c1", ParentID: "t1_game_t3_p1", Body: protocol.EncodeRoundStart(1, "Red car", time.Minute), CreatedAt: testBase.Add(time.Second)},
	}})

	e := NewEngine(gw, testConfig(fc))
	r := &recorder{}
	key, err := e.Start(testThread(t, "t3_p1"), r.callback)
	require.NoError(t, err)
	fc.BlockUntil(1)

	assert.True(t, e.Stop(key))
	assert.Nil(t, e.Status(key))
	assert.False(t, e.Stop(key), "second stop is a no-op")

	// Even if the cancelled timer still fires, nothing may reach the
	// callback or revive the registry entry.
	fc.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, r.len())
	assert.Nil(t, e.Status(key))
}

func TestGamesAreIndependent(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testBase)
	gw := newScriptedGateway()
	th1 := testThread(t, "t3_p1")
	th2 := testThread(t, "t3_p2")
	gw.script("t3_p1", pollResponse{comments: []forum.Comment{
		{ID: "a1", ParentID: th1.GameCommentID(), Body: protocol.EncodeRoundStart(1, "Red car", time.Minute), CreatedAt: testBase.Add(time.Second)},
	}})
	gw.script("t3_p2", pollResponse{comments: []forum.Comment{
		{ID: "b1", ParentID: th2.GameCommentID(), Body: protocol.EncodeRoundStart(1, "Blue door", time.Minute), CreatedAt: testBase.Add(time.Second)},
	}})

	e := NewEngine(gw, testConfig(fc))
	r1, r2 := &recorder{}, &recorder{}

	key1, err := e.Start(th1, r1.callback)
	require.NoError(t, err)
	key2, err := e.Start(th2, r2.callback)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{key1, key2}, e.Keys())

	fc.BlockUntil(2)
	assert.True(t, e.Stop(key1))

	assert.Nil(t, e.Status(key1))
	require.NotNil(t, e.Status(key2), "stopping one game must not touch the other")

	fc.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return r2.len() >= 1 }, time.Second, 5*time.Millisecond)
	for _, ev := range r2.snapshot() {
		assert.Equal(t, "t3_p2", ev.PostID)
	}
	assert.Zero(t, r1.len())

	e.StopAll()
	assert.Nil(t, e.Status(key2))
	assert.Empty(t, e.Keys())
}

func TestInFlightTickAfterStopIsDiscarded(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testBase)
	gw := newScriptedGateway()
	gw.entered = make(chan struct{}, 1)
	gw.hold = make(chan struct{})
	gw.script("t3_p1", pollResponse{comments: []forum.Comment{
		{ID: "c1", ParentID: "t1_game_t3_p1", Body: protocol.EncodeRoundStart(1, "Red car", time.Minute), CreatedAt: testBase.Add(time.Second)},
	}})

	e := NewEngine(gw, testConfig(fc))
	r := &recorder{}
	key, err := e.Start(testThread(t, "t3_p1"), r.callback)
	require.NoError(t, err)

	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)
	<-gw.entered // tick is inside the gateway call

	assert.True(t, e.Stop(key))

	// Re-initialize while the stale tick is still in flight.
	r2 := &recorder{}
	key2, err := e.Start(testThread(t, "t3_p1"), r2.callback)
	require.NoError(t, err)
	require.Equal(t, key, key2)

	close(gw.hold)
	time.Sleep(50 * time.Millisecond)

	// The stale tick delivered nothing and did not disturb the new loop.
	assert.Zero(t, r.len())
	st := e.Status(key2)
	require.NotNil(t, st)
	assert.True(t, st.Active)
	assert.Zero(t, st.ErrorCount)
	e.StopAll()
}

func TestRateLimitIsTransient(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testBase)
	gw := newScriptedGateway()
	gw.script("t3_p1",
		pollResponse{err: &forum.RateLimitError{RetryAfter: 10 * time.Second}},
		pollResponse{},
	)

	e := NewEngine(gw, testConfig(fc))
	key, err := e.Start(testThread(t, "t3_p1"), func(Event) {})
	require.NoError(t, err)
	defer e.StopAll()

	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)
	fc.BlockUntil(1)

	st := e.Status(key)
	require.NotNil(t, st, "rate limiting must not be fatal")
	assert.Equal(t, 1, st.ErrorCount)
	assert.Equal(t, 2*time.Second, st.NextInterval)

	fc.Advance(2 * time.Second)
	fc.BlockUntil(1)

	st = e.Status(key)
	require.NotNil(t, st)
	assert.Zero(t, st.ErrorCount, "success resets the error counter")
	assert.Equal(t, 5*time.Second, st.NextInterval)
}
