package accrual

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"nftrarity/internal/apperr"
	"nftrarity/internal/ledger"
	"nftrarity/internal/models"
	"nftrarity/internal/worker"
)

// ErrRunInProgress is returned when a run is requested while one is active
var ErrRunInProgress = errors.New("accrual run already in progress")

// Store is the persistence the engine needs
type Store interface {
	ListStakingUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, address string) (*models.User, error)
	GetItem(ctx context.Context, tokenID int) (*models.Item, error)
	// ApplyAccrual adds delta and re-evaluates the tier in one write
	ApplyAccrual(ctx context.Context, address string, delta float64, stakedCount int, rules []models.TierRule) (float64, models.Tier, error)
}

// BatchRunner executes tasks with bounded concurrency
type BatchRunner interface {
	RunBatch(ctx context.Context, tasks []worker.Task) []worker.Result
}

// Reconciler repairs stake state before points are computed
type Reconciler interface {
	Reconcile(ctx context.Context) (ledger.ReconcileReport, error)
}

// Notifier is told about every completed run
type Notifier interface {
	AccrualCompleted(ctx context.Context, report *RunReport)
}

// UserFailure records why one user's step failed
type UserFailure struct {
	Address string
	Err     error
}

// RunReport summarises one accrual pass
type RunReport struct {
	StartedAt      time.Time
	FinishedAt     time.Time
	UsersProcessed int
	TotalPoints    float64
	TierChanges    int
	Failures       []UserFailure
	Reconciled     ledger.ReconcileReport
}

// Engine runs accrual passes
type Engine struct {
	store      Store
	runner     BatchRunner
	reconciler Reconciler
	notifiers  []Notifier
	logger     *slog.Logger
	now        func() time.Time
	running    atomic.Bool
}

// Option customizes an Engine
type Option func(*Engine)

// WithReconciler repairs ghost stakes at the start of each run
func WithReconciler(r Reconciler) Option {
	return func(e *Engine) { e.reconciler = r }
}

// WithNotifiers registers completion hooks
func WithNotifiers(n ...Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n...) }
}

// NewEngine creates an accrual engine
func NewEngine(store Store, runner BatchRunner, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		runner: runner,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type userOutcome struct {
	points     float64
	tierChange bool
}

// Run performs one accrual pass over every user with staked items. Failures
// of individual users are collected in the report and do not stop the run.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	report := &RunReport{StartedAt: e.now()}

	if e.reconciler != nil {
		rec, err := e.reconciler.Reconcile(ctx)
		if err != nil {
			e.logger.Error("stake reconciliation failed, continuing with accrual", "error", err)
		}
		report.Reconciled = rec
	}

	users, err := e.store.ListStakingUsers(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make(map[string]*userOutcome, len(users))
	tasks := make([]worker.Task, 0, len(users))
	for _, u := range users {
		address := u.WalletAddress
		out := &userOutcome{}
		outcomes[address] = out
		tasks = append(tasks, worker.Task{
			Key: address,
			Run: func(ctx context.Context) error {
				return e.accrueUser(ctx, address, out)
			},
		})
	}

	for _, res := range e.runner.RunBatch(ctx, tasks) {
		if res.Err != nil {
			report.Failures = append(report.Failures, UserFailure{Address: res.Key, Err: res.Err})
			e.logger.Warn("accrual failed for user", "address", res.Key, "error", res.Err)
			continue
		}
		report.UsersProcessed++
		out := outcomes[res.Key]
		report.TotalPoints += out.points
		if out.tierChange {
			report.TierChanges++
		}
	}
	report.FinishedAt = e.now()

	e.logger.Info("accrual run finished",
		"users", report.UsersProcessed,
		"failures", len(report.Failures),
		"points", report.TotalPoints,
		"tier_changes", report.TierChanges,
		"took", report.FinishedAt.Sub(report.StartedAt))

	for _, n := range e.notifiers {
		n.AccrualCompleted(ctx, report)
	}
	return report, nil
}

// accrueUser snapshots the user, then credits points and re-evaluates the
// tier in a single store write. Each task writes only to its own outcome.
func (e *Engine) accrueUser(ctx context.Context, address string, out *userOutcome) error {
	user, err := e.store.GetUser(ctx, address)
	if err != nil {
		return err
	}
	staked := user.StakedTokenIDs()
	if len(staked) == 0 {
		return nil
	}

	scores := make([]float64, 0, len(staked))
	for _, id := range staked {
		item, err := e.store.GetItem(ctx, id)
		if err != nil {
			if errors.Is(err, apperr.ErrItemNotFound) {
				e.logger.Warn("staked item missing, skipped", "address", address, "token_id", id)
				continue
			}
			return err
		}
		scores = append(scores, item.RarityScore)
	}

	delta := DailyPoints(scores, user.Tier)
	total, tier, err := e.store.ApplyAccrual(ctx, address, delta, len(staked), Rules())
	if err != nil {
		return err
	}
	out.points = delta

	if tier != user.Tier {
		out.tierChange = true
		e.logger.Info("tier changed", "address", address, "from", user.Tier, "to", tier, "points", total)
	}
	return nil
}
