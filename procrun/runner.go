// Package procrun spawns external commands, drains their output streams
// concurrently, and enforces hard timeouts with process-tree termination.
package procrun

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	defaultMaxOutputBytes = 1 << 20 // 1 MiB per stream
	termGracePeriod       = 5 * time.Second
)

// Spec describes one command invocation.
type Spec struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the parent environment.
	Env []string
	// Timeout is the hard wall-clock bound; zero means no timeout.
	Timeout time.Duration
	// MaxOutputBytes caps each captured stream. Streams keep draining past
	// the cap so the child never blocks on a full pipe.
	MaxOutputBytes int
}

// Result is the outcome of one invocation. A timeout is reported through
// TimedOut and a caller abort through Canceled, both distinct from a
// tool-reported non-zero exit.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Canceled bool
	Duration time.Duration
}

func (r Result) Success() bool { return !r.TimedOut && !r.Canceled && r.ExitCode == 0 }

// StderrTail returns the last part of standard error for compact error
// reporting.
func (r Result) StderrTail(maxBytes int) string {
	s := strings.TrimSpace(r.Stderr)
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := s[len(s)-maxBytes:]
	if i := strings.IndexByte(cut, '\n'); i >= 0 && i+1 < len(cut) {
		cut = cut[i+1:]
	}
	return cut
}

// Runner is the injectable execution surface; backends take it so tests
// can substitute a fake.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
	RunStreaming(ctx context.Context, spec Spec, onLine func(string)) (Result, error)
}

// OSRunner runs commands on the local host.
type OSRunner struct{}

func New() *OSRunner { return &OSRunner{} }

// Run captures both streams of a short command.
func (r *OSRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	return r.RunStreaming(ctx, spec, nil)
}

// RunStreaming drains standard output and standard error concurrently,
// one goroutine per pipe, joined before Wait, so neither OS pipe buffer
// can fill while the other is being read. Per-stream line order is
// preserved; no ordering holds between the two streams. Launch failures
// come back as an error; everything after a successful start is reported
// through Result.
func (r *OSRunner) RunStreaming(ctx context.Context, spec Spec, onLine func(string)) (Result, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return Result{}, fmt.Errorf("missing command name")
	}
	maxBytes := spec.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxOutputBytes
	}

	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group, so a timeout can terminate shell-wrapped
	// grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	var (
		wg       sync.WaitGroup
		outBuf   strings.Builder
		errBuf   strings.Builder
		lineMu   sync.Mutex
		readLine = func(line string) {
			if onLine == nil {
				return
			}
			lineMu.Lock()
			onLine(line)
			lineMu.Unlock()
		}
	)

	// ReadLine chunks arbitrarily long lines instead of failing on them,
	// so the pipe is always drained to EOF. A single line past the cap is
	// truncated; the remainder is still consumed.
	drain := func(pipe io.Reader, buf *strings.Builder) {
		defer wg.Done()
		rd := bufio.NewReaderSize(pipe, 64*1024)
		var line strings.Builder
		for {
			chunk, isPrefix, err := rd.ReadLine()
			if len(chunk) > 0 && line.Len() < maxBytes {
				line.Write(chunk)
			}
			if err == nil && isPrefix {
				continue
			}
			if err == nil || line.Len() > 0 {
				s := line.String()
				line.Reset()
				readLine(s)
				if buf.Len() < maxBytes {
					buf.WriteString(s)
					buf.WriteByte('\n')
				}
			}
			if err != nil {
				return
			}
		}
	}

	wg.Add(2)
	go drain(stdout, &outBuf)
	go drain(stderr, &errBuf)

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	var timer <-chan time.Time
	if spec.Timeout > 0 {
		t := time.NewTimer(spec.Timeout)
		defer t.Stop()
		timer = t.C
	}

	res := Result{}
	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer:
		res.TimedOut = true
		terminateTree(cmd, done)
		waitErr = nil
	case <-ctx.Done():
		res.Canceled = true
		terminateTree(cmd, done)
		waitErr = nil
	}

	res.Duration = time.Since(started)
	res.Stdout = outBuf.String()
	res.Stderr = errBuf.String()
	res.ExitCode = exitCode(cmd, waitErr, res.TimedOut || res.Canceled)
	return res, nil
}

// terminateTree asks the whole process group to stop, escalating to
// SIGKILL after a grace period, then waits for the readers to flush.
func terminateTree(cmd *exec.Cmd, done chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	grace := time.NewTimer(termGracePeriod)
	defer grace.Stop()
	select {
	case <-done:
		return
	case <-grace.C:
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-done
}

func exitCode(cmd *exec.Cmd, waitErr error, killed bool) int {
	if killed {
		return -1
	}
	if waitErr == nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}
		return 0
	}
	if ee, ok := waitErr.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

var _ Runner = (*OSRunner)(nil)
