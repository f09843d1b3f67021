package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/repositories"
	"github.com/upb/secretmanager/services"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Alerter is notified whenever an audit entry is lost
type Alerter interface {
	AuditWriteFailed()
}

// Config holds configuration for the Recorder
type Config struct {
	// SharesLedger is true when audit rows live in the ledger database and can join its transactions
	SharesLedger bool
	BufferSize   int
	WorkerCount  int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		SharesLedger: true,
		BufferSize:   1000,
		WorkerCount:  2,
	}
}

// Recorder writes one audit entry per workflow mutation.
//
// When the audit table shares the ledger database, Stage inserts the entry inside the
// ledger transaction so state and audit commit together. Otherwise Stage is a no-op and
// Committed hands the entry to background workers after the ledger commit; a failed
// write is logged as an alert and counted, and never reaches the caller.
type Recorder struct {
	repo         repositories.AuditRepository
	sharesLedger bool
	alerts       Alerter
	logger       *zap.Logger

	queue       chan *models.AuditLog
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	mu          sync.Mutex
	started     bool
	stopped     bool
}

// NewRecorder creates a new Recorder
func NewRecorder(repo repositories.AuditRepository, cfg Config, alerts Alerter, logger *zap.Logger) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	return &Recorder{
		repo:         repo,
		sharesLedger: cfg.SharesLedger,
		alerts:       alerts,
		logger:       logger,
		queue:        make(chan *models.AuditLog, cfg.BufferSize),
		workerCount:  cfg.WorkerCount,
		bufferSize:   cfg.BufferSize,
	}
}

// SharesLedger reports whether entries are written inside ledger transactions
func (r *Recorder) SharesLedger() bool {
	return r.sharesLedger
}

// Start starts the background workers used for post-commit writes
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("audit recorder already started")
	}
	if r.sharesLedger {
		r.started = true
		return nil
	}

	for i := 0; i < r.workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.started = true
	r.logger.Info("started audit recorder",
		zap.Int("worker_count", r.workerCount),
		zap.Int("buffer_size", r.bufferSize))
	return nil
}

// Stop drains queued entries and stops the workers
func (r *Recorder) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.queue)
	r.mu.Unlock()

	r.logger.Info("stopping audit recorder", zap.Int("pending_entries", len(r.queue)))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit recorder stop timeout after %v", timeout)
	}
}

// Stage writes entry inside the ledger transaction carried by ctx.
// It does nothing when the audit store is separate from the ledger.
func (r *Recorder) Stage(ctx context.Context, entry *models.AuditLog) error {
	if !r.sharesLedger {
		return nil
	}
	if err := r.repo.Insert(ctx, entry); err != nil {
		return services.ErrAuditWriteFailed.Wrap(err)
	}
	return nil
}

// Committed schedules entry for writing after the ledger transaction committed.
// It does nothing when the entry was already staged in the transaction.
func (r *Recorder) Committed(entry *models.AuditLog) {
	if r.sharesLedger {
		return
	}

	r.mu.Lock()
	running := r.started && !r.stopped
	if running {
		select {
		case r.queue <- entry:
			r.mu.Unlock()
			return
		default:
		}
	}
	r.mu.Unlock()

	// Not running or buffer full: write on the caller's goroutine rather than drop
	r.write(entry)
}

func (r *Recorder) worker(id int) {
	defer r.wg.Done()
	for entry := range r.queue {
		r.write(entry)
	}
	r.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (r *Recorder) write(entry *models.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Insert(ctx, entry); err != nil {
		r.Failed(entry, err)
	}
}

// Failed reports a lost audit entry as an operational alert
func (r *Recorder) Failed(entry *models.AuditLog, err error) {
	fields := []zap.Field{
		zap.Bool("alert", true),
		zap.String("action", string(entry.Action)),
		zap.String("actor", entry.Actor),
		zap.String("details", entry.Details),
		zap.Error(err),
	}
	if entry.RequestID != nil {
		fields = append(fields, zap.Int64("request_id", *entry.RequestID))
	}
	r.logger.Error("audit write failed", fields...)
	if r.alerts != nil {
		r.alerts.AuditWriteFailed()
	}
}

// Stats represents recorder statistics
type Stats struct {
	SharesLedger   bool `json:"shares_ledger"`
	BufferSize     int  `json:"buffer_size"`
	PendingEntries int  `json:"pending_entries"`
	WorkerCount    int  `json:"worker_count"`
	Started        bool `json:"started"`
}

// GetStats returns statistics about the recorder
func (r *Recorder) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		SharesLedger:   r.sharesLedger,
		BufferSize:     r.bufferSize,
		PendingEntries: len(r.queue),
		WorkerCount:    r.workerCount,
		Started:        r.started,
	}
}
