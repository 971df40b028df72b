package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// ErrLocked is returned when another process holds the run lock.
var ErrLocked = errors.New("generation run already in progress")

// inProcess serialises runs per root within this process.
var inProcess = struct {
	mu    sync.Mutex
	roots map[string]chan struct{}
}{roots: make(map[string]chan struct{})}

func rootSemaphore(root string) chan struct{} {
	inProcess.mu.Lock()
	defer inProcess.mu.Unlock()
	sem, ok := inProcess.roots[root]
	if !ok {
		sem = make(chan struct{}, 1)
		inProcess.roots[root] = sem
	}
	return sem
}

// runLock is held for the duration of one run.
type runLock struct {
	sem  chan struct{}
	path string
}

// acquireLock waits for other runs of this process on root, then creates
// lockPath exclusively. A lock file left by another process fails fast with
// ErrLocked.
func acquireLock(ctx context.Context, root, lockPath string) (*runLock, error) {
	sem := rootSemaphore(root)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for run lock: %w", ctx.Err())
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		<-sem
		if errors.Is(err, os.ErrExist) {
			holder, _ := os.ReadFile(lockPath)
			return nil, fmt.Errorf("%w: %s exists (pid %s)", ErrLocked, lockPath, string(holder))
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(lockPath)
		<-sem
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &runLock{sem: sem, path: lockPath}, nil
}

func (l *runLock) release() error {
	err := os.Remove(l.path)
	<-l.sem
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
