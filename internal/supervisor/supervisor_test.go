package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/worldforge/orchestrator/internal/domain"
)

type fakeWaiter struct {
	done chan struct{}
	err  error
}

func (w *fakeWaiter) Wait() error {
	<-w.done
	return w.err
}
func (w *fakeWaiter) Pid() int { return 1 }

func newFakeWaiter(delay time.Duration, err error) *fakeWaiter {
	w := &fakeWaiter{done: make(chan struct{})}
	w.err = err
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		close(w.done)
	}()
	return w
}

func writeResult(t *testing.T, logDir, sessionID string, result domain.AgentResult) {
	t.Helper()
	dir := filepath.Join(logDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), data, 0o644); err != nil {
		t.Fatalf("write result.json: %v", err)
	}
}

func TestSupervisor_CompletesOnZeroExit(t *testing.T) {
	logDir := t.TempDir()
	cfg := Config{
		Command:   []string{"agent"},
		WorkDir:   t.TempDir(),
		LogDir:    logDir,
		SessionID: "s1",
		Start: func(ctx context.Context, cmd []string, dir string, stdout *os.File) (waiter, error) {
			writeResult(t, logDir, "s1", domain.AgentResult{Success: true, Message: "ok"})
			return newFakeWaiter(0, nil), nil
		},
	}
	s := New(cfg)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Status() != domain.WorldCompleted {
		t.Fatalf("Status = %v, want Completed", s.Status())
	}
	result, ok := s.Result()
	if !ok || !result.Success {
		t.Fatalf("Result = %+v, ok=%v", result, ok)
	}
}

func TestSupervisor_FailsOnNonZeroExit(t *testing.T) {
	logDir := t.TempDir()
	cfg := Config{
		Command:   []string{"agent"},
		WorkDir:   t.TempDir(),
		LogDir:    logDir,
		SessionID: "s2",
		Start: func(ctx context.Context, cmd []string, dir string, stdout *os.File) (waiter, error) {
			writeResult(t, logDir, "s2", domain.AgentResult{Success: false, Message: "bad"})
			return newFakeWaiter(0, errors.New("exit status 1")), nil
		},
	}
	s := New(cfg)

	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("Run should return error on non-zero exit")
	}
	if s.Status() != domain.WorldFailed {
		t.Fatalf("Status = %v, want Failed", s.Status())
	}
}

func TestSupervisor_TimesOutAndSignalsChild(t *testing.T) {
	logDir := t.TempDir()
	started := make(chan struct{})
	cfg := Config{
		Command:   []string{"agent"},
		WorkDir:   t.TempDir(),
		LogDir:    logDir,
		SessionID: "s3",
		Timeout:   10 * time.Millisecond,
		Start: func(ctx context.Context, cmd []string, dir string, stdout *os.File) (waiter, error) {
			w := &fakeWaiter{done: make(chan struct{})}
			close(started)
			go func() {
				<-ctx.Done()
				close(w.done)
			}()
			return w, nil
		},
	}
	s := New(cfg)

	err := s.Run(context.Background())
	<-started
	if !errors.Is(err, domain.ErrSupervisorTimedOut) {
		t.Fatalf("Run error = %v, want ErrSupervisorTimedOut", err)
	}
	if s.Status() != domain.WorldTimedOut {
		t.Fatalf("Status = %v, want TimedOut", s.Status())
	}
	if _, ok := s.Result(); ok {
		t.Fatalf("Result should be unavailable for a timed-out supervisor")
	}
}

func TestSupervisor_CancelTransitionsToFailed(t *testing.T) {
	logDir := t.TempDir()
	cfg := Config{
		Command:   []string{"agent"},
		WorkDir:   t.TempDir(),
		LogDir:    logDir,
		SessionID: "s4",
		Start: func(ctx context.Context, cmd []string, dir string, stdout *os.File) (waiter, error) {
			w := &fakeWaiter{done: make(chan struct{})}
			go func() {
				<-ctx.Done()
				close(w.done)
			}()
			return w, nil
		},
	}
	s := New(cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	for s.Status() != domain.WorldRunning {
		time.Sleep(time.Millisecond)
	}
	s.Cancel()

	err := <-errCh
	if !errors.Is(err, domain.ErrSupervisorCancelled) {
		t.Fatalf("Run error = %v, want ErrSupervisorCancelled", err)
	}
	if s.Status() != domain.WorldFailed {
		t.Fatalf("Status = %v, want Failed", s.Status())
	}
}

func TestSupervisor_InvalidResultJSONYieldsFailedWithParseNote(t *testing.T) {
	logDir := t.TempDir()
	sessionID := "s5"
	cfg := Config{
		Command:   []string{"agent"},
		WorkDir:   t.TempDir(),
		LogDir:    logDir,
		SessionID: sessionID,
		Start: func(ctx context.Context, cmd []string, dir string, stdout *os.File) (waiter, error) {
			dir2 := filepath.Join(logDir, sessionID)
			os.MkdirAll(dir2, 0o755)
			os.WriteFile(filepath.Join(dir2, "result.json"), []byte("not json"), 0o644)
			return newFakeWaiter(0, nil), nil
		},
	}
	s := New(cfg)

	err := s.Run(context.Background())
	if !errors.Is(err, domain.ErrSupervisorResultInvalid) {
		t.Fatalf("Run error = %v, want ErrSupervisorResultInvalid", err)
	}
	if s.Status() != domain.WorldFailed {
		t.Fatalf("Status = %v, want Failed", s.Status())
	}
}
