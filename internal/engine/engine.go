package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/example/tee-scheduler/internal/domain/teetime"
	"github.com/example/tee-scheduler/internal/logging"
	"github.com/example/tee-scheduler/internal/queue"
	"github.com/example/tee-scheduler/internal/telemetry"
)

// Phase is the engine job's lifecycle phase.
type Phase string

const (
	PhaseNone      Phase = "none"
	PhasePending   Phase = "pending"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// JobStatus is a read-only projection of the active job. Callers never
// mutate engine state through it.
type JobStatus struct {
	Phase         Phase     `json:"phase"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	LastRun       time.Time `json:"last_run,omitempty"`
	NextRun       time.Time `json:"next_run,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
}

// Metrics reports queue occupancy plus terminal counters.
type Metrics struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// TickQueue is the durable queue surface the engine drives. Satisfied by
// *queue.TickQueue; tests substitute an in-memory fake.
type TickQueue interface {
	Enqueue(ctx context.Context, jobID string, p queue.Priority, runAt time.Time) error
	Dequeue(ctx context.Context) (string, error)
	Ack(ctx context.Context, jobID string) error
	Forget(ctx context.Context, jobID string) error
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	ReclaimExpired(ctx context.Context, now time.Time) ([]string, error)
	IncrAttempts(ctx context.Context, jobID string) (int, error)
	Snapshot(ctx context.Context) (queue.Depths, error)
}

// Notifier is the fan-out surface. Satisfied by *notify.Fanout.
type Notifier interface {
	Success(ctx context.Context, outcome teetime.BookingOutcome)
	Failure(ctx context.Context, reason string)
	HealthAlert(ctx context.Context, detail string)
}

// Recorder receives one BookingOutcome per completed attempt for the
// history collaborator. May be nil.
type Recorder interface {
	RecordAttempt(ctx context.Context, correlationID string, attempt int, outcome teetime.BookingOutcome) error
}

// Config is the engine's immutable snapshot of scheduling parameters, read
// once at construction and never live-reloaded mid-attempt.
type Config struct {
	Interval     time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	PollInterval time.Duration
	Players      []string
}

type jobState struct {
	id       string // doubles as the correlation id for the attempt's trace
	phase    Phase
	lastRun  time.Time
	nextRun  time.Time
	lastErr  string
	attempts int
}

// Engine owns the single-worker check-and-book loop. Exactly one job is
// active per instance and exactly one worker consumes the queue; the
// provider session is never touched from more than one goroutine.
type Engine struct {
	cfg      Config
	provider teetime.Provider
	queue    TickQueue
	notifier Notifier
	recorder Recorder
	query    teetime.AvailabilityQuery
	log      zerolog.Logger

	mu        sync.Mutex
	job       jobState
	paused    bool
	running   bool
	completed int64
	failed    int64

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

func New(cfg Config, provider teetime.Provider, q TickQueue, notifier Notifier, recorder Recorder, query teetime.AvailabilityQuery, log zerolog.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Engine{
		cfg:      cfg,
		provider: provider,
		queue:    q,
		notifier: notifier,
		recorder: recorder,
		query:    query,
		log:      log,
		job:      jobState{phase: PhaseNone},
		now:      time.Now,
	}
}

// Start connects the provider, creates the job with a fresh correlation id,
// enqueues its first tick and launches the worker.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.running = true
	jobID := uuid.NewString()
	e.job = jobState{id: jobID, phase: PhasePending, nextRun: e.now()}
	e.mu.Unlock()

	cctx := logging.WithCorrelationID(ctx, e.log, jobID)
	if err := e.provider.Connect(cctx); err != nil {
		if teetime.Classify(err).Terminal() {
			e.mu.Lock()
			e.running = false
			e.job = jobState{phase: PhaseNone}
			e.mu.Unlock()
			return err
		}
		// Transient connect failures are the first tick's problem; the retry
		// budget takes it from here.
		e.notifier.HealthAlert(cctx, "provider session could not be established at startup: "+err.Error())
		e.log.Warn().Err(err).Msg("provider connect failed at startup, continuing")
	}

	if err := e.queue.Enqueue(ctx, jobID, queue.PriorityRecurring, e.now()); err != nil {
		e.mu.Lock()
		e.running = false
		e.job = jobState{phase: PhaseNone}
		e.mu.Unlock()
		return errors.Wrap(err, "enqueue first tick")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(runCtx)
	e.log.Info().Str("correlation_id", jobID).Str("provider", e.provider.Name()).Msg("engine started")
	return nil
}

// Stop halts the worker, waits for any in-flight tick to settle and closes
// the provider session.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.provider.Close(ctx)
}

// Pause stops consuming ticks; an in-flight attempt is left to finish.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.log.Info().Msg("engine paused")
}

func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.log.Info().Msg("engine resumed")
}

// TriggerNow enqueues a high-priority one-off tick that preempts the next
// scheduled one without disturbing the recurring cadence.
func (e *Engine) TriggerNow(ctx context.Context) error {
	e.mu.Lock()
	id := e.job.id
	phase := e.job.phase
	e.mu.Unlock()
	if id == "" || phase == PhaseCompleted || phase == PhaseFailed {
		return errors.New("no active job to trigger")
	}
	return e.queue.Enqueue(ctx, id, queue.PriorityTrigger, e.now())
}

// Status projects the current job state.
func (e *Engine) Status() JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return JobStatus{
		Phase:         e.job.phase,
		CorrelationID: e.job.id,
		LastRun:       e.job.lastRun,
		NextRun:       e.job.nextRun,
		LastError:     e.job.lastErr,
		Attempts:      e.job.attempts,
		MaxAttempts:   e.cfg.MaxAttempts,
	}
}

// Metrics combines durable queue depths with in-process terminal counters.
func (e *Engine) Metrics(ctx context.Context) (Metrics, error) {
	d, err := e.queue.Snapshot(ctx)
	if err != nil {
		return Metrics{}, err
	}
	e.mu.Lock()
	m := Metrics{
		Waiting:   d.Ready,
		Active:    d.InFlight,
		Delayed:   d.Delayed,
		Completed: e.completed,
		Failed:    e.failed,
	}
	e.mu.Unlock()
	telemetry.QueueDepthGauge.Set(float64(d.Ready))
	telemetry.DelayedDepthGauge.Set(float64(d.Delayed))
	return m, nil
}

// run is the single worker. Ticks are strictly sequential: the next one is
// not pulled until the current one reaches a terminal decision.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.PollInterval):
		}

		e.mu.Lock()
		paused := e.paused
		e.mu.Unlock()
		if paused {
			continue
		}

		now := e.now()
		if _, err := e.queue.PromoteDue(ctx, now); err != nil {
			e.log.Error().Err(err).Msg("promote due ticks")
			continue
		}
		if reclaimed, err := e.queue.ReclaimExpired(ctx, now); err != nil {
			e.log.Error().Err(err).Msg("reclaim expired leases")
		} else if len(reclaimed) > 0 {
			// A reclaimed lease means a previous process died mid-tick; the
			// tick re-runs as a retryable failure instead of vanishing.
			e.log.Warn().Strs("jobs", reclaimed).Msg("reclaimed ticks from expired leases")
		}

		jobID, err := e.queue.Dequeue(ctx)
		if err != nil {
			e.log.Error().Err(err).Msg("dequeue tick")
			continue
		}
		if jobID == "" {
			continue
		}
		e.executeTick(ctx, jobID)
	}
}

// executeTick runs one check-and-book cycle to a terminal decision.
func (e *Engine) executeTick(ctx context.Context, jobID string) {
	e.mu.Lock()
	if jobID != e.job.id || e.job.phase == PhaseCompleted || e.job.phase == PhaseFailed {
		e.mu.Unlock()
		_ = e.queue.Ack(ctx, jobID)
		_ = e.queue.Forget(ctx, jobID)
		return
	}
	e.job.phase = PhaseRunning
	e.job.lastRun = e.now()
	e.mu.Unlock()

	ctx = logging.WithCorrelationID(ctx, e.log, jobID)
	log := logging.FromContext(ctx)

	telemetry.TicksTotal.Inc()
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	if err := e.provider.Healthy(ctx); err != nil {
		log.Warn().Err(err).Msg("provider unhealthy")
		e.failTick(ctx, jobID, teetime.TransientError("health check", err))
		return
	}

	slots, err := e.provider.FindSlots(ctx, e.query)
	if err != nil {
		log.Warn().Err(err).Msg("availability check failed")
		e.failTick(ctx, jobID, err)
		return
	}

	if len(slots) == 0 {
		delay := NextInterval(e.cfg.Interval)
		next := e.now().Add(delay)
		_ = e.queue.Ack(ctx, jobID)
		if err := e.queue.Enqueue(ctx, jobID, queue.PriorityRecurring, next); err != nil {
			log.Error().Err(err).Msg("reschedule after no-match")
		}
		e.mu.Lock()
		e.job.phase = PhasePending
		e.job.nextRun = next
		e.mu.Unlock()
		log.Info().Dur("delay", delay).Msg("no eligible openings, rescheduled")
		return
	}
	telemetry.SlotsFound.Add(float64(len(slots)))

	slot, _ := teetime.ChooseEarliest(slots)
	log.Info().Str("slot", slot.String()).Int("eligible", len(slots)).Msg("opening found, booking")

	outcome, err := e.provider.Book(ctx, slot, teetime.BookingRequest{
		SlotID:  slot.ID,
		Players: e.cfg.Players,
		Prefs:   e.query.Prefs,
	})
	if err != nil {
		e.record(ctx, jobID, teetime.BookingOutcome{Slot: &slot, Err: err.Error(), Message: "booking transaction failed"})
		log.Warn().Err(err).Str("slot", slot.ID).Msg("booking transaction failed")
		// A failed transaction is a failure of the tick; the retry re-runs
		// availability rather than blindly re-trying this slot id.
		e.failTick(ctx, jobID, err)
		return
	}

	telemetry.BookingsSucceeded.Inc()
	e.record(ctx, jobID, outcome)
	e.notifier.Success(ctx, outcome)

	e.mu.Lock()
	e.job.phase = PhaseCompleted
	e.job.nextRun = time.Time{}
	e.completed++
	e.mu.Unlock()

	_ = e.queue.Ack(ctx, jobID)
	_ = e.queue.Forget(ctx, jobID)
	log.Info().Str("confirmation", outcome.ConfirmationCode).Msg("booking complete")
}

// failTick classifies the failure and either retries with backoff or ends
// the job. Intermediate retries are logged but silent to the user; exactly
// one failure notification goes out, on terminal errors or on exhausting the
// retry budget.
func (e *Engine) failTick(ctx context.Context, jobID string, err error) {
	log := logging.FromContext(ctx)
	kind := teetime.Classify(err)
	telemetry.TickFailures.WithLabelValues(kind.String()).Inc()

	if kind.Terminal() {
		e.finishFailed(ctx, jobID, err)
		return
	}

	attempts, aerr := e.queue.IncrAttempts(ctx, jobID)
	if aerr != nil {
		log.Error().Err(aerr).Msg("bump attempt counter")
		attempts = e.cfg.MaxAttempts // fail safe: do not retry forever
	}
	e.mu.Lock()
	e.job.attempts = attempts
	e.mu.Unlock()

	if attempts >= e.cfg.MaxAttempts {
		e.finishFailed(ctx, jobID, errors.Wrapf(err, "retry budget exhausted after %d attempts", attempts))
		return
	}

	delay := Backoff(attempts, e.cfg.BackoffBase)
	telemetry.BackoffSecondsHist.Observe(delay.Seconds())
	next := e.now().Add(delay)

	_ = e.queue.Ack(ctx, jobID)
	if qerr := e.queue.Enqueue(ctx, jobID, queue.PriorityRecurring, next); qerr != nil {
		log.Error().Err(qerr).Msg("schedule retry")
	}

	e.mu.Lock()
	e.job.phase = PhasePending
	e.job.nextRun = next
	e.job.lastErr = err.Error()
	e.mu.Unlock()
	log.Warn().Err(err).Str("kind", kind.String()).Int("attempt", attempts).Dur("delay", delay).Msg("tick failed, retry scheduled")
}

func (e *Engine) finishFailed(ctx context.Context, jobID string, err error) {
	e.mu.Lock()
	e.job.phase = PhaseFailed
	e.job.nextRun = time.Time{}
	e.job.lastErr = err.Error()
	e.failed++
	e.mu.Unlock()

	_ = e.queue.Ack(ctx, jobID)
	_ = e.queue.Forget(ctx, jobID)

	e.notifier.Failure(ctx, err.Error())
	logging.FromContext(ctx).Error().Err(err).Msg("job failed terminally")
}

func (e *Engine) record(ctx context.Context, jobID string, outcome teetime.BookingOutcome) {
	if e.recorder == nil {
		return
	}
	e.mu.Lock()
	attempt := e.job.attempts + 1
	e.mu.Unlock()
	if err := e.recorder.RecordAttempt(ctx, jobID, attempt, outcome); err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("record attempt outcome")
	}
}
