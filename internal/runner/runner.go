package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/yairfalse/permitwatch/internal/differ"
	perrors "github.com/yairfalse/permitwatch/internal/errors"
	"github.com/yairfalse/permitwatch/internal/fetcher"
	"github.com/yairfalse/permitwatch/internal/logger"
	"github.com/yairfalse/permitwatch/internal/notifier"
	"github.com/yairfalse/permitwatch/internal/storage"
	"github.com/yairfalse/permitwatch/pkg/config"
	"github.com/yairfalse/permitwatch/pkg/types"
)

// ErrCycleInProgress is returned when a cycle is requested while another runs
var ErrCycleInProgress = errors.New("a check is already running")

// Config holds the runner's collaborators
type Config struct {
	Settings *config.Settings
	Fetcher  fetcher.Fetcher
	Notifier notifier.Notifier
	Store    storage.Store
	Engine   *differ.Engine
	Log      logger.Logger

	// Reloads delivers replacement settings; they apply when the next
	// cycle starts
	Reloads <-chan *config.Settings
	// OnCycle is called after every cycle
	OnCycle func(CycleResult)

	// Now and After replace the wall clock in tests
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// Runner checks for new availability on a fixed interval. The interval is
// measured from the end of one cycle to the start of the next, and only
// one cycle runs at a time.
type Runner struct {
	fetcher  fetcher.Fetcher
	notifier notifier.Notifier
	store    storage.Store
	engine   *differ.Engine
	log      logger.Logger
	reloads  <-chan *config.Settings
	onCycle  func(CycleResult)
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	cycleMu sync.Mutex

	mu       sync.Mutex
	settings *config.Settings
	pending  *config.Settings
	current  types.Store
	loaded   bool
	state    State
	last     *CycleResult
	cycles   int
	failed   int
	nextRun  time.Time
}

// New creates a runner
func New(cfg Config) (*Runner, error) {
	if cfg.Settings == nil {
		return nil, errors.New("runner needs settings")
	}
	if cfg.Fetcher == nil || cfg.Notifier == nil || cfg.Store == nil {
		return nil, errors.New("runner needs a fetcher, a notifier and a store")
	}
	if cfg.Engine == nil {
		cfg.Engine = differ.NewEngine()
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.After == nil {
		cfg.After = time.After
	}

	return &Runner{
		fetcher:  cfg.Fetcher,
		notifier: cfg.Notifier,
		store:    cfg.Store,
		engine:   cfg.Engine,
		log:      cfg.Log,
		reloads:  cfg.Reloads,
		onCycle:  cfg.OnCycle,
		now:      cfg.Now,
		after:    cfg.After,
		settings: cfg.Settings,
		state:    StateIdle,
	}, nil
}

// Run checks immediately, then again every interval until ctx is done or,
// with run-once set, after the first check. Cancellation is only observed
// between cycles; a started check always completes. A shutdown is not an
// error.
func (r *Runner) Run(ctx context.Context) error {
	reloads := r.reloads

	for {
		if ctx.Err() != nil {
			r.terminate("shutdown requested, stopping")
			return nil
		}

		r.applyPending()
		settings := r.Settings()

		// the cycle is shielded from shutdown signals
		r.RunCycle(context.WithoutCancel(ctx))

		if settings.RunOnce {
			r.terminate("run-once set, stopping after one check")
			return nil
		}

		interval := settings.Interval()
		next := r.now().Add(interval)
		r.mu.Lock()
		r.nextRun = next
		r.mu.Unlock()
		r.log.WithField("next_run", next.Format(time.RFC3339)).
			Info(fmt.Sprintf("next check %s", humanize.RelTime(next, r.now(), "ago", "from now")))

		timer := r.after(interval)
	wait:
		for {
			select {
			case <-ctx.Done():
				r.terminate("shutdown requested, stopping")
				return nil
			case <-timer:
				break wait
			case updated, ok := <-reloads:
				if !ok {
					reloads = nil
					continue
				}
				r.mu.Lock()
				r.pending = updated
				r.mu.Unlock()
				r.log.Info("new settings received, applying at the next check")
			}
		}
	}
}

// RunCycle runs one full check: fetch every permit, compare with the
// stored availability, persist the fresh snapshot, and notify if anything
// new appeared. Failures are caught here, logged and reported to the error
// recipients.
func (r *Runner) RunCycle(ctx context.Context) CycleResult {
	if !r.cycleMu.TryLock() {
		return CycleResult{State: StateFailed, Err: ErrCycleInProgress}
	}
	defer r.cycleMu.Unlock()

	result := CycleResult{ID: uuid.NewString(), StartedAt: r.now()}
	log := r.log.WithField("cycle", result.ID)
	r.setState(StateRunning)
	log.Info("checking for permits")

	report, err := r.cycle(ctx, log)

	result.Report = report
	result.Err = err
	result.FinishedAt = r.now()
	if err != nil {
		result.State = StateFailed
		log.Error("check failed", err)
		r.reportFailure(ctx, err, log)
	} else {
		result.State = StateSucceeded
		log.WithField("duration", result.Duration().String()).Info(differ.Summary(report))
	}

	r.mu.Lock()
	r.state = result.State
	r.last = &result
	r.cycles++
	if err != nil {
		r.failed++
	}
	r.mu.Unlock()

	if r.onCycle != nil {
		r.onCycle(result)
	}

	r.setState(StateIdle)
	return result
}

// Preview fetches and compares without persisting or notifying
func (r *Runner) Preview(ctx context.Context) (types.DiffReport, types.Store, error) {
	if !r.cycleMu.TryLock() {
		return nil, nil, ErrCycleInProgress
	}
	defer r.cycleMu.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, nil, err
	}
	settings := r.Settings()
	fresh, err := fetcher.FetchAll(ctx, r.fetcher, settings.Permits, settings.Range)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	previous := r.current
	r.mu.Unlock()
	return r.engine.Compare(previous, fresh), fresh, nil
}

func (r *Runner) cycle(ctx context.Context, log logger.Logger) (types.DiffReport, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	settings := r.Settings()

	fresh, err := fetcher.FetchAll(ctx, r.fetcher, settings.Permits, settings.Range)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	previous := r.current
	r.mu.Unlock()

	report := r.engine.Compare(previous, fresh)

	// persisted before notifying so a failed send never replays the same days
	var saveErr error
	if err := r.store.Save(ctx, fresh); err != nil {
		saveErr = perrors.PersistenceError(r.store.Location(), err)
	} else {
		log.WithField("permits", len(fresh)).Debug("saved availability")
	}
	// kept in memory even when the save failed, so the next cycle only
	// reports days that are new since this one
	r.mu.Lock()
	r.current = fresh
	r.mu.Unlock()

	if !report.Empty() {
		msg := notifier.Message{
			Subject: differ.Subject(r.now()),
			Body:    differ.FormatReport(report),
			Report:  report,
		}
		if err := r.notifier.Send(ctx, msg); err != nil {
			if _, typed := perrors.TypeOf(err); !typed {
				err = perrors.NotificationError("notifier", err)
			}
			if saveErr != nil {
				log.Error("failed to send availability notification", err)
				return report, saveErr
			}
			return report, err
		}
		log.WithField("permits", len(report)).Info("sent availability notification")
	}
	return report, saveErr
}

// reportFailure tells the error recipients about a failed cycle. Its own
// failure is only logged.
func (r *Runner) reportFailure(ctx context.Context, cause error, log logger.Logger) {
	msg := notifier.Message{
		Subject: differ.ErrorSubject(),
		Body:    differ.ErrorBody(r.now(), strings.TrimSpace(perrors.FormatPlain(cause))),
		IsError: true,
	}
	if err := r.notifier.Send(ctx, msg); err != nil {
		log.Error("failed to send error notification", err)
	}
}

// ensureLoaded reads the saved document once. A failed read leaves the
// runner unloaded so the next cycle tries again.
func (r *Runner) ensureLoaded(ctx context.Context) error {
	r.mu.Lock()
	loaded := r.loaded
	r.mu.Unlock()
	if loaded {
		return nil
	}

	current, err := storage.LoadOrEmpty(ctx, r.store, r.log)
	if err != nil {
		return perrors.PersistenceError(r.store.Location(), err)
	}
	r.mu.Lock()
	r.current = current
	r.loaded = true
	r.mu.Unlock()
	return nil
}

func (r *Runner) applyPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return
	}
	r.settings = r.pending
	r.pending = nil
	r.log.WithFields(map[string]interface{}{
		"permits":  len(r.settings.Permits),
		"interval": r.settings.Interval().String(),
	}).Info("applied new settings")
}

func (r *Runner) terminate(reason string) {
	r.setState(StateTerminated)
	r.log.Info(reason)
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Settings returns the settings in effect
func (r *Runner) Settings() *config.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Current returns the last persisted availability
func (r *Runner) Current() types.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Clone()
}

// Status reports the runner state, counters and schedule
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{
		State:   r.state,
		Cycles:  r.cycles,
		Failed:  r.failed,
		NextRun: r.nextRun,
		Now:     r.now(),
	}
	if r.last != nil {
		last := *r.last
		s.Last = &last
	}
	return s
}
