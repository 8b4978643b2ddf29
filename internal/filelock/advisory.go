package filelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"

	"sceneplus/internal/logging"
)

var (
	// ErrLockUnavailable reports that the lock primitive itself failed (the
	// lock file cannot be opened or flocked). Callers degrade to in-process
	// serialization when they see it.
	ErrLockUnavailable = errors.New("advisory lock unavailable")
	// ErrLockTimeout reports that another process still held the lock when
	// the wait bound expired. The update must not proceed.
	ErrLockTimeout = errors.New("advisory lock held by another process")
)

const retryDelay = 25 * time.Millisecond

// Advisory is a cooperative cross-process lock.
type Advisory interface {
	// Lock blocks until the lock is held, ctx is done, the wait bound expires
	// (ErrLockTimeout) or the lock primitive fails (ErrLockUnavailable). The
	// returned function releases it.
	Lock(ctx context.Context) (unlock func() error, err error)
	// Supported is false when Lock provides no cross-process exclusion.
	Supported() bool
}

// LockPath returns the sibling lock file used for documentPath.
func LockPath(documentPath string) string {
	return documentPath + ".lock"
}

// NewAdvisory selects the advisory implementation once at startup. A no-op
// lock is returned when enabled is false or the platform has no flock
// primitive; that choice is logged because it weakens the guarantee to
// in-process serialization only.
func NewAdvisory(documentPath string, enabled bool, timeout time.Duration, logger *slog.Logger) Advisory {
	logger = logging.NewComponentLogger(logger, "filelock")
	if !enabled || !advisorySupported {
		reason := "disabled by configuration"
		if !advisorySupported {
			reason = "not supported on this platform"
		}
		logger.Info("advisory file lock inactive; only in-process serialization applies",
			logging.String("reason", reason),
			logging.String(logging.FieldPath, LockPath(documentPath)),
		)
		return noopAdvisory{}
	}
	return &flockAdvisory{path: LockPath(documentPath), timeout: timeout}
}

type flockAdvisory struct {
	path    string
	timeout time.Duration
}

func (a *flockAdvisory) Supported() bool { return true }

func (a *flockAdvisory) Lock(ctx context.Context) (func() error, error) {
	lockCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	fl := flock.New(a.path, flock.SetFlag(os.O_CREATE|os.O_WRONLY|os.O_APPEND), flock.SetPermissions(0o644))
	locked, err := fl.TryLockContext(lockCtx, retryDelay)
	if err != nil || !locked {
		_ = fl.Close()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s still held after %s", ErrLockTimeout, a.path, a.timeout)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrLockUnavailable, a.path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s still held after %s", ErrLockTimeout, a.path, a.timeout)
	}
	return fl.Unlock, nil
}

type noopAdvisory struct{}

func (noopAdvisory) Supported() bool { return false }

func (noopAdvisory) Lock(context.Context) (func() error, error) {
	return func() error { return nil }, nil
}
