package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrWriteFailure marks any failure that prevented the replacement from
// happening. The target is untouched whenever this error is returned.
var ErrWriteFailure = errors.New("atomic write failed")

// Step names one stage of an atomic replacement.
type Step string

const (
	StepCreate Step = "create"
	StepWrite  Step = "write"
	StepSync   Step = "sync"
	StepChmod  Step = "chmod"
	StepClose  Step = "close"
	StepRename Step = "rename"
)

// Steps lists the stages in execution order.
var Steps = []Step{StepCreate, StepWrite, StepSync, StepChmod, StepClose, StepRename}

// AtomicWriter replaces files by writing a sibling temp file, forcing it to
// stable storage, and renaming it over the target.
type AtomicWriter struct {
	// BeforeStep runs ahead of each stage; a non-nil error aborts the write
	// as if that stage had failed.
	BeforeStep func(Step) error
}

// WriteFileAtomic replaces path with data using a default AtomicWriter.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	var w AtomicWriter
	return w.WriteFile(path, data, perm)
}

// WriteFile replaces path with data. perm is used only when the target does not
// exist yet; an existing target keeps its mode.
func (w *AtomicWriter) WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat target: %w", ErrWriteFailure, err)
	}

	if err := w.before(StepCreate); err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrWriteFailure, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrWriteFailure, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := w.before(StepWrite); err != nil {
		return fmt.Errorf("%w: write temp file: %w", ErrWriteFailure, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("%w: write temp file: %w", ErrWriteFailure, err)
	}
	if err := w.before(StepSync); err != nil {
		return fmt.Errorf("%w: sync temp file: %w", ErrWriteFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp file: %w", ErrWriteFailure, err)
	}
	if err := w.before(StepChmod); err != nil {
		return fmt.Errorf("%w: chmod temp file: %w", ErrWriteFailure, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("%w: chmod temp file: %w", ErrWriteFailure, err)
	}
	if err := w.before(StepClose); err != nil {
		return fmt.Errorf("%w: close temp file: %w", ErrWriteFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %w", ErrWriteFailure, err)
	}
	if err := w.before(StepRename); err != nil {
		return fmt.Errorf("%w: rename temp file: %w", ErrWriteFailure, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename temp file: %w", ErrWriteFailure, err)
	}
	committed = true

	// The rename is already durable on most filesystems; the directory sync
	// only narrows the window on the rest.
	_ = syncDir(dir)
	return nil
}

func (w *AtomicWriter) before(step Step) error {
	if w == nil || w.BeforeStep == nil {
		return nil
	}
	return w.BeforeStep(step)
}

func syncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer handle.Close()
	return handle.Sync()
}
