package filelock

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"sceneplus/internal/logging"
)

// Manager serializes read-modify-write cycles. Every Acquire first takes the
// process-wide section, then the advisory lock.
type Manager struct {
	slot     chan struct{}
	advisory Advisory
	logger   *slog.Logger
}

// NewManager constructs a manager around advisory. A nil advisory behaves as
// the no-op implementation.
func NewManager(advisory Advisory, logger *slog.Logger) *Manager {
	if advisory == nil {
		advisory = noopAdvisory{}
	}
	return &Manager{
		slot:     make(chan struct{}, 1),
		advisory: advisory,
		logger:   logging.NewComponentLogger(logger, "filelock"),
	}
}

// CrossProcess reports whether acquisitions also exclude cooperating
// processes.
func (m *Manager) CrossProcess() bool {
	return m.advisory.Supported()
}

// Acquire blocks until the exclusive section is held or ctx is done. The
// returned release function is safe to call more than once.
//
// A failing lock primitive (ErrLockUnavailable) does not fail the
// acquisition; the caller proceeds with in-process exclusion only and a
// warning is logged. A lock held elsewhere past the wait bound
// (ErrLockTimeout) or a done ctx fails it.
func (m *Manager) Acquire(ctx context.Context) (func(), error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	unlock, err := m.advisory.Lock(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrLockUnavailable):
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "advisory lock unavailable; continuing with in-process lock only", "advisory_lock_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the .lock file"),
			logging.String(logging.FieldImpact, "external cooperating writers are not excluded for this update"),
		)
		unlock = nil
	default:
		<-m.slot
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if unlock != nil {
				if err := unlock(); err != nil {
					logging.WarnWithContext(m.logger, "advisory unlock failed", "advisory_unlock_failed",
						logging.Error(err),
						logging.String(logging.FieldImpact, "lock file handle released when the process exits"),
					)
				}
			}
			<-m.slot
		})
	}
	return release, nil
}
