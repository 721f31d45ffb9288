package instance

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquire_ThenSecondFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer first.Release()

	second, err := Acquire(path)
	if err == nil {
		second.Release()
		t.Fatal("second Acquire() error = nil, want ErrAlreadyRunning")
	}
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Acquire() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestAcquire_ReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	second, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() after Release() error = %v", err)
	}
	second.Release()
}

func TestAcquire_CreatesLockDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "nodewatch.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release()

	if l.Path() != path {
		t.Errorf("Path() = %q, want %q", l.Path(), path)
	}
}

func TestRelease_NilLockIsSafe(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v, want nil", err)
	}
	if l.Path() != "" {
		t.Errorf("nil Path() = %q, want empty", l.Path())
	}
}
