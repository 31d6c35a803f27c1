package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
	"github.com/yairfalse/permitwatch/internal/notifier"
	"github.com/yairfalse/permitwatch/internal/storage"
	"github.com/yairfalse/permitwatch/pkg/config"
	"github.com/yairfalse/permitwatch/pkg/types"
)

// scriptedFetcher answers from rounds[round]; the round advances after
// every cycle
type scriptedFetcher struct {
	mu      sync.Mutex
	rounds  []map[types.EntityID]fetchResult
	round   int
	fetched [][]types.EntityID
	onFetch func(ctx context.Context)
}

type fetchResult struct {
	snap types.Snapshot
	err  error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, entity types.Entity, dates types.DateRange) (types.Snapshot, error) {
	if f.onFetch != nil {
		f.onFetch(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.fetched) <= f.round {
		f.fetched = append(f.fetched, nil)
	}
	f.fetched[f.round] = append(f.fetched[f.round], entity.ID)

	round := f.round
	if round >= len(f.rounds) {
		round = len(f.rounds) - 1
	}
	res, found := f.rounds[round][entity.ID]
	if !found {
		return types.Snapshot{}, perrors.FetchError(string(entity.ID), errors.New("unknown permit"))
	}
	return res.snap, res.err
}

func (f *scriptedFetcher) advance(CycleResult) {
	f.mu.Lock()
	f.round++
	f.mu.Unlock()
}

type memStore struct {
	data    types.Store
	saves   int
	loads   int
	saveErr error
	loadErr error
}

func (s *memStore) Load(ctx context.Context) (types.Store, error) {
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.data == nil {
		return nil, storage.ErrNotFound
	}
	return s.data.Clone(), nil
}

func (s *memStore) Save(ctx context.Context, store types.Store) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.data = store.Clone()
	return nil
}

func (s *memStore) Location() string { return "memory" }
func (s *memStore) Close() error { return nil }

type recordingNotifier struct {
	mu        sync.Mutex
	messages  []notifier.Message
	failAvail error
	failError error
}

func (n *recordingNotifier) Send(ctx context.Context, msg notifier.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	if msg.IsError {
		return n.failError
	}
	return n.failAvail
}

func (n *recordingNotifier) availability() []notifier.Message {
	return n.filter(false)
}

func (n *recordingNotifier) errors() []notifier.Message {
	return n.filter(true)
}

func (n *recordingNotifier) filter(isError bool) []notifier.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifier.Message
	for _, m := range n.messages {
		if m.IsError == isError {
			out = append(out, m)
		}
	}
	return out
}

func testSettings(runOnce bool, ids ...types.EntityID) *config.Settings {
	r, _ := types.ParseDateRange("2025-03-01", "2025-03-31")
	permits := make([]types.Entity, len(ids))
	for i, id := range ids {
		permits[i] = types.Entity{ID: id}
	}
	return &config.Settings{RunOnce: runOnce, RunEvery: 900, WaitTime: 10, Permits: permits, Range: r}
}

func undivided(days ...int) types.Snapshot {
	return types.NewUndivided("Permit A", "https://example.test/permits/A",
		types.Calendar{"March 2025": types.NewDaySet(days...)})
}

func ok(snap types.Snapshot) fetchResult { return fetchResult{snap: snap} }

// stopAfter fires the first n timers immediately and cancels on the next
func stopAfter(n int, cancel context.CancelFunc, intervals *[]time.Duration) func(time.Duration) <-chan time.Time {
	var mu sync.Mutex
	calls := 0
	return func(d time.Duration) <-chan time.Time {
		mu.Lock()
		defer mu.Unlock()
		*intervals = append(*intervals, d)
		calls++
		if calls > n {
			cancel()
			return make(chan time.Time)
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
}

func newTestRunner(t *testing.T, settings *config.Settings, f *scriptedFetcher, n *recordingNotifier, s *memStore, after func(time.Duration) <-chan time.Time) *Runner {
	t.Helper()
	r, err := New(Config{
		Settings: settings,
		Fetcher:  f,
		Notifier: n,
		Store:    s,
		OnCycle:  f.advance,
		Now:      func() time.Time { return time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC) },
		After:    after,
	})
	require.NoError(t, err)
	return r
}

func TestRun_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": ok(undivided(1, 5, 9))},
		{"A": ok(undivided(1, 5, 9, 12))},
	}}
	n := &recordingNotifier{}
	s := &memStore{}
	var intervals []time.Duration

	r := newTestRunner(t, testSettings(false, "A"), f, n, s, stopAfter(1, cancel, &intervals))
	require.NoError(t, r.Run(ctx))

	// cycle 1 is a silent baseline, cycle 2 reports exactly the new day
	avail := n.availability()
	require.Len(t, avail, 1)
	assert.Equal(t, types.DiffReport{"A": undivided(12)}, avail[0].Report)
	assert.Contains(t, avail[0].Body, "March 2025")
	assert.Contains(t, avail[0].Body, "[12]")
	assert.True(t, strings.HasPrefix(avail[0].Subject, "PERMITWATCH: New permit availability found as of"))
	assert.Empty(t, n.errors())

	assert.Equal(t, types.Store{"A": undivided(1, 5, 9, 12)}, s.data)
	assert.Equal(t, 2, s.saves)
	assert.Equal(t, []time.Duration{15 * time.Minute, 15 * time.Minute}, intervals)

	status := r.Status()
	assert.Equal(t, StateTerminated, status.State)
	assert.Equal(t, 2, status.Cycles)
	assert.Equal(t, 0, status.Failed)
}

func TestRun_EmptyReportStillPersists(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": ok(undivided(1, 5))},
	}}
	n := &recordingNotifier{}
	s := &memStore{data: types.Store{
		"A":     undivided(1, 5, 9),
		"stale": undivided(3),
	}}

	r := newTestRunner(t, testSettings(true, "A"), f, n, s, nil)
	require.NoError(t, r.Run(context.Background()))

	// removed days are never reported and stale permits are dropped
	assert.Empty(t, n.messages)
	assert.Equal(t, types.Store{"A": undivided(1, 5)}, s.data)
}

func TestRun_FetchFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": ok(undivided(1)), "B": {err: perrors.FetchError("B", errors.New("HTTP 503"))}},
		{"A": ok(undivided(1)), "B": ok(undivided(2))},
	}}
	n := &recordingNotifier{}
	s := &memStore{}
	var results []CycleResult
	var intervals []time.Duration

	r, err := New(Config{
		Settings: testSettings(false, "A", "B"),
		Fetcher:  f,
		Notifier: n,
		Store:    s,
		OnCycle: func(res CycleResult) {
			results = append(results, res)
			f.advance(res)
		},
		After: stopAfter(1, cancel, &intervals),
	})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	require.Len(t, results, 2)
	assert.Equal(t, StateFailed, results[0].State)
	assert.True(t, perrors.IsType(results[0].Err, perrors.ErrorTypeFetch))
	assert.Equal(t, StateSucceeded, results[1].State)

	// the failed cycle wrote nothing; the next one was still armed
	assert.Equal(t, 1, s.saves)
	assert.Len(t, intervals, 2)

	errs := n.errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "PERMITWATCH: Error checking for permits", errs[0].Subject)
	assert.Contains(t, errs[0].Body, "HTTP 503")
	assert.Contains(t, errs[0].Body, "There was an error checking for permits at")
}

func TestRun_RunOnce(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{{"A": ok(undivided(1))}}}
	s := &memStore{}
	after := func(time.Duration) <-chan time.Time {
		t.Fatal("run-once must not arm a timer")
		return nil
	}

	r := newTestRunner(t, testSettings(true, "A"), f, &recordingNotifier{}, s, after)
	require.NoError(t, r.Run(context.Background()))

	assert.Len(t, f.fetched, 1)
	assert.Equal(t, 1, s.saves)
	assert.Equal(t, StateTerminated, r.Status().State)
	assert.Equal(t, 1, r.Status().Cycles)
}

func TestRun_RunOnceAfterFailure(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": {err: perrors.FetchError("A", errors.New("down"))}},
	}}
	n := &recordingNotifier{}

	r := newTestRunner(t, testSettings(true, "A"), f, n, &memStore{}, nil)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, r.Status().Cycles)
	assert.Equal(t, 1, r.Status().Failed)
	assert.Len(t, n.errors(), 1)
}

func TestRunCycle_PersistenceFailure(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": ok(undivided(1, 2))},
	}}
	n := &recordingNotifier{}
	s := &memStore{data: types.Store{"A": undivided(1)}, saveErr: errors.New("disk full")}

	r := newTestRunner(t, testSettings(false, "A"), f, n, s, nil)
	res := r.RunCycle(context.Background())

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, perrors.IsType(res.Err, perrors.ErrorTypePersistence))
	// the new day still goes out alongside the error report
	require.Len(t, n.availability(), 1)
	assert.Equal(t, types.DiffReport{"A": undivided(2)}, n.availability()[0].Report)
	require.Len(t, n.errors(), 1)
	assert.Contains(t, n.errors()[0].Body, "disk full")
	assert.Equal(t, types.Store{"A": undivided(1, 2)}, r.Current())
	assert.Equal(t, types.Store{"A": undivided(1)}, s.data)

	// once the store recovers nothing is reported twice
	s.saveErr = nil
	res = r.RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Len(t, n.availability(), 1)
	assert.Equal(t, types.Store{"A": undivided(1, 2)}, s.data)
}

func TestRunCycle_PersistentSaveFailureStillNotifies(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": ok(undivided(1, 2))},
		{"A": ok(undivided(1, 2, 3))},
		{"A": ok(undivided(1, 2, 3))},
	}}
	n := &recordingNotifier{}
	s := &memStore{data: types.Store{"A": undivided(1)}, saveErr: errors.New("bucket is read-only")}

	r := newTestRunner(t, testSettings(false, "A"), f, n, s, nil)
	for i := 0; i < 3; i++ {
		res := r.RunCycle(context.Background())
		assert.Equal(t, StateFailed, res.State)
		f.advance(res)
	}

	avail := n.availability()
	require.Len(t, avail, 2)
	assert.Equal(t, types.DiffReport{"A": undivided(2)}, avail[0].Report)
	assert.Equal(t, types.DiffReport{"A": undivided(3)}, avail[1].Report)
	assert.Len(t, n.errors(), 3)
	assert.Equal(t, 0, s.saves)
}

func TestRunCycle_SaveAndNotifyFailureReportsPersistence(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{{"A": ok(undivided(1, 2))}}}
	n := &recordingNotifier{failAvail: errors.New("smtp down")}
	s := &memStore{data: types.Store{"A": undivided(1)}, saveErr: errors.New("disk full")}

	res := newTestRunner(t, testSettings(false, "A"), f, n, s, nil).RunCycle(context.Background())
	assert.True(t, perrors.IsType(res.Err, perrors.ErrorTypePersistence))
	assert.Len(t, n.availability(), 1)
	assert.Len(t, n.errors(), 1)
}

func TestRunCycle_LoadFailureIsRetried(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": ok(undivided(1, 2))},
	}}
	n := &recordingNotifier{}
	s := &memStore{data: types.Store{"A": undivided(1)}, loadErr: errors.New("connection reset by peer")}

	r := newTestRunner(t, testSettings(false, "A"), f, n, s, nil)
	res := r.RunCycle(context.Background())

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, perrors.IsType(res.Err, perrors.ErrorTypePersistence))
	// nothing fetched, saved or reported as new against an unknown baseline
	assert.Empty(t, f.fetched)
	assert.Equal(t, 0, s.saves)
	assert.Empty(t, n.availability())
	assert.Len(t, n.errors(), 1)

	s.loadErr = nil
	res = r.RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 2, s.loads)
	require.Len(t, n.availability(), 1)
	assert.Equal(t, types.DiffReport{"A": undivided(2)}, n.availability()[0].Report)

	r.RunCycle(context.Background())
	assert.Equal(t, 2, s.loads)
}

func TestRunCycle_CorruptStoreStartsFresh(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{{"A": ok(undivided(1, 2))}}}
	n := &recordingNotifier{}
	s := &memStore{loadErr: storage.ErrCorrupt}

	res := newTestRunner(t, testSettings(false, "A"), f, n, s, nil).RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 1, s.saves)
	assert.Empty(t, n.messages)
}

func TestRunCycle_ErrorReportIncludesSolutions(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": {err: perrors.FetchStatusError("A", "availability", 429)}},
	}}
	n := &recordingNotifier{}

	res := newTestRunner(t, testSettings(false, "A"), f, n, &memStore{}, nil).RunCycle(context.Background())
	require.Error(t, res.Err)

	errs := n.errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Body, "HTTP 429")
	assert.Contains(t, errs[0].Body, "Solutions:")
	assert.Contains(t, errs[0].Body, "Increase run-every")
}

func TestRunCycle_NotificationFailure(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": ok(undivided(1, 2))},
	}}
	n := &recordingNotifier{failAvail: perrors.NotificationError("email", errors.New("smtp down"))}
	s := &memStore{data: types.Store{"A": undivided(1)}}

	r := newTestRunner(t, testSettings(false, "A"), f, n, s, nil)
	res := r.RunCycle(context.Background())

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, perrors.IsType(res.Err, perrors.ErrorTypeNotification))
	// saved before notifying
	assert.Equal(t, 1, s.saves)
	assert.Equal(t, types.Store{"A": undivided(1, 2)}, s.data)
	assert.Len(t, n.errors(), 1)
}

func TestRunCycle_UntypedNotifierErrorIsWrapped(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{{"A": ok(undivided(1, 2))}}}
	n := &recordingNotifier{failAvail: errors.New("plain failure")}
	s := &memStore{data: types.Store{"A": undivided(1)}}

	res := newTestRunner(t, testSettings(false, "A"), f, n, s, nil).RunCycle(context.Background())
	assert.True(t, perrors.IsType(res.Err, perrors.ErrorTypeNotification))
}

func TestRun_ErrorNotificationFailureIsSwallowed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": {err: perrors.FetchError("A", errors.New("down"))}},
	}}
	n := &recordingNotifier{failError: errors.New("smtp down")}
	var results []CycleResult
	var intervals []time.Duration

	r, err := New(Config{
		Settings: testSettings(false, "A"),
		Fetcher:  f,
		Notifier: n,
		Store:    &memStore{},
		OnCycle:  func(res CycleResult) { results = append(results, res) },
		After:    stopAfter(2, cancel, &intervals),
	})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	require.Len(t, results, 3)
	for _, res := range results {
		assert.True(t, perrors.IsType(res.Err, perrors.ErrorTypeFetch))
	}
	assert.Len(t, n.errors(), 3)
}

func TestRunCycle_NoConcurrentCycles(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	f := &scriptedFetcher{
		rounds: []map[types.EntityID]fetchResult{{"A": ok(undivided(1))}},
		onFetch: func(context.Context) {
			once.Do(func() {
				close(started)
				<-release
			})
		},
	}
	r := newTestRunner(t, testSettings(false, "A"), f, &recordingNotifier{}, &memStore{}, nil)

	done := make(chan CycleResult)
	go func() { done <- r.RunCycle(context.Background()) }()

	<-started
	assert.Equal(t, StateRunning, r.Status().State)
	second := r.RunCycle(context.Background())
	assert.ErrorIs(t, second.Err, ErrCycleInProgress)

	_, _, err := r.Preview(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(release)
	first := <-done
	assert.Equal(t, StateSucceeded, first.State)
	assert.Equal(t, StateIdle, r.Status().State)
	assert.Equal(t, 1, r.Status().Cycles)
}

func TestRun_ShutdownWaitsForCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{{"A": ok(undivided(1))}}}
	f.onFetch = func(cycleCtx context.Context) {
		// a signal arriving mid-cycle does not interrupt it
		cancel()
		assert.NoError(t, cycleCtx.Err())
	}
	s := &memStore{}
	after := func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	r := newTestRunner(t, testSettings(false, "A"), f, &recordingNotifier{}, s, after)
	require.NoError(t, r.Run(ctx))

	assert.Equal(t, 1, s.saves)
	assert.Equal(t, 1, r.Status().Cycles)
	assert.Equal(t, StateTerminated, r.Status().State)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{{"A": ok(undivided(1))}}}
	r := newTestRunner(t, testSettings(false, "A"), f, &recordingNotifier{}, &memStore{}, nil)
	require.NoError(t, r.Run(ctx))
	assert.Empty(t, f.fetched)
}

func TestRun_AppliesReloadedSettingsAtNextCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{
		{"A": ok(undivided(1)), "B": ok(undivided(2))},
	}}
	reloads := make(chan *config.Settings)
	tick := make(chan time.Time)
	calls := 0
	after := func(time.Duration) <-chan time.Time {
		calls++
		if calls == 1 {
			return tick
		}
		cancel()
		return make(chan time.Time)
	}

	r, err := New(Config{
		Settings: testSettings(false, "A"),
		Fetcher:  f,
		Notifier: &recordingNotifier{},
		Store:    &memStore{},
		Reloads:  reloads,
		OnCycle:  f.advance,
		After:    after,
	})
	require.NoError(t, err)

	done := make(chan error)
	go func() { done <- r.Run(ctx) }()

	reloads <- testSettings(false, "B")
	tick <- time.Now()
	require.NoError(t, <-done)

	require.Len(t, f.fetched, 2)
	assert.Equal(t, []types.EntityID{"A"}, f.fetched[0])
	assert.Equal(t, []types.EntityID{"B"}, f.fetched[1])
	assert.Equal(t, []types.EntityID{"B"}, permitIDs(r.Settings()))
}

func permitIDs(s *config.Settings) []types.EntityID {
	ids := make([]types.EntityID, len(s.Permits))
	for i, p := range s.Permits {
		ids[i] = p.ID
	}
	return ids
}

func TestPreview_DoesNotPersistOrNotify(t *testing.T) {
	f := &scriptedFetcher{rounds: []map[types.EntityID]fetchResult{{"A": ok(undivided(1, 2))}}}
	n := &recordingNotifier{}
	s := &memStore{data: types.Store{"A": undivided(1)}}

	r := newTestRunner(t, testSettings(false, "A"), f, n, s, nil)
	report, fresh, err := r.Preview(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.DiffReport{"A": undivided(2)}, report)
	assert.Equal(t, types.Store{"A": undivided(1, 2)}, fresh)
	assert.Equal(t, 0, s.saves)
	assert.Empty(t, n.messages)
}

func TestStatus_String(t *testing.T) {
	now := time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC)
	s := Status{
		State:   StateIdle,
		Cycles:  3,
		Failed:  1,
		Last:    &CycleResult{State: StateSucceeded, FinishedAt: now.Add(-2 * time.Minute)},
		NextRun: now.Add(13 * time.Minute),
		Now:     now,
	}
	assert.Equal(t, "idle after 3 check(s), 1 failed; last check succeeded 2 minutes ago; next check 13 minutes from now", s.String())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Settings: testSettings(false, "A")})
	assert.Error(t, err)
	_, err = New(Config{})
	assert.Error(t, err)
}
