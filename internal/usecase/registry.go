package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/HyperCyx/otpbot/internal/domain"
)

const (
	maxBackgroundTasks = 100
	maxTaskAge         = 30 * time.Minute
)

// verifyTask is one background claim-time verification.
type verifyTask struct {
	userID      int64
	phoneNumber string
	startedAt   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// Registry tracks background verification tasks per user. A user has at
// most one task; starting a new one cancels the previous.
type Registry struct {
	logger zerolog.Logger

	mu    sync.Mutex
	tasks map[int64]*verifyTask
}

// NewRegistry creates a background task registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		tasks:  make(map[int64]*verifyTask),
	}
}

// Start registers a task for the user and returns its context plus a
// finish func the task must call when it ends. A previous task for the
// same user is cancelled first.
func (r *Registry) Start(userID int64, phoneNumber string) (context.Context, func(), error) {
	r.mu.Lock()
	if old, ok := r.tasks[userID]; ok {
		delete(r.tasks, userID)
		old.cancel()
	}
	if len(r.tasks) >= maxBackgroundTasks {
		r.mu.Unlock()
		return nil, nil, domain.ErrTooManyTasks
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &verifyTask{
		userID:      userID,
		phoneNumber: phoneNumber,
		startedAt:   time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	r.tasks[userID] = task
	r.mu.Unlock()

	var once sync.Once
	finish := func() {
		once.Do(func() {
			close(task.done)
			r.mu.Lock()
			if cur, ok := r.tasks[userID]; ok && cur == task {
				delete(r.tasks, userID)
			}
			r.mu.Unlock()
		})
	}
	return ctx, finish, nil
}

// Cancel stops the user's task if one is running. Safe to call when no
// task exists.
func (r *Registry) Cancel(userID int64) bool {
	r.mu.Lock()
	task, ok := r.tasks[userID]
	if ok {
		delete(r.tasks, userID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	task.cancel()
	return true
}

// CancelWait cancels the user's task and waits for it to finish or the
// context to expire.
func (r *Registry) CancelWait(ctx context.Context, userID int64) bool {
	r.mu.Lock()
	task, ok := r.tasks[userID]
	if ok {
		delete(r.tasks, userID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	task.cancel()
	select {
	case <-task.done:
	case <-ctx.Done():
		r.logger.Warn().Int64("user_id", userID).Msg("Timeout waiting for background task to stop")
	}
	return true
}

// Size returns the number of running tasks.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Sweep cancels tasks older than maxTaskAge and returns how many were
// removed.
func (r *Registry) Sweep() int {
	cutoff := time.Now().Add(-maxTaskAge)

	r.mu.Lock()
	var stale []*verifyTask
	for userID, task := range r.tasks {
		if task.startedAt.Before(cutoff) {
			stale = append(stale, task)
			delete(r.tasks, userID)
		}
	}
	r.mu.Unlock()

	for _, task := range stale {
		task.cancel()
	}

	if len(stale) > 0 {
		r.logger.Info().Int("count", len(stale)).Msg("Swept aged background tasks")
	}
	return len(stale)
}

// Shutdown cancels every task and waits for them to finish or the
// context to expire.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = make(map[int64]*verifyTask)
	r.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		select {
		case <-task.done:
		case <-ctx.Done():
			return
		}
	}
}
