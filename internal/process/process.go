// Package process supervises the short-lived game-server runs needed during
// provisioning: installers that must run to completion and gate runs that
// are stopped as soon as the license prompt shows up in their output.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
)

// DefaultGrace is how long a process may take to exit after a graceful
// termination request before it is killed.
const DefaultGrace = 5 * time.Second

// Outcome is how a supervised run ended.
type Outcome int

const (
	TriggerSeen Outcome = iota + 1
	CleanExit
	AbnormalExit
	Cancelled
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case TriggerSeen:
		return "trigger seen"
	case CleanExit:
		return "clean exit"
	case AbnormalExit:
		return "abnormal exit"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Command describes one supervised run.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env entries are appended to the current environment.
	Env []string
	// Triggers are matched case-insensitively against every output line.
	Triggers []string
	// OnLine receives every stdout/stderr line, ANSI sequences removed.
	OnLine func(line string)
	// OnStart is called with the live handle before Run waits on it.
	OnStart func(h *Handle)
	// HardTimeout force-kills a process that neither exits nor triggers.
	// Zero disables it.
	HardTimeout time.Duration
}

// Result is the outcome of a run. ExitCode is -1 when the process was
// terminated by a signal.
type Result struct {
	Outcome     Outcome
	ExitCode    int
	TriggerLine string
}

// AbnormalExitError reports a non-zero exit without a trigger.
type AbnormalExitError struct {
	Path string
	Code int
}

func (e *AbnormalExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", filepath.Base(e.Path), e.Code)
}

// Is reports whether target is domain.ErrAbnormalExit.
func (e *AbnormalExitError) Is(target error) bool {
	return target == domain.ErrAbnormalExit
}

// Supervisor runs commands with escalating termination.
type Supervisor struct {
	grace time.Duration
}

// NewSupervisor creates a Supervisor. A non-positive grace uses DefaultGrace.
func NewSupervisor(grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Supervisor{grace: grace}
}

// Grace returns the termination grace window.
func (s *Supervisor) Grace() time.Duration {
	return s.grace
}

// Run starts c and blocks until it reaches one of the five outcomes.
// No process from the run's process group is left alive on return.
// Errors are returned for Cancelled (domain.ErrCancelled), AbnormalExit
// (*AbnormalExitError) and launch failures (domain.ErrProcessLaunchFailed);
// TriggerSeen, CleanExit and TimedOut are successes.
func (s *Supervisor) Run(token *cancel.Token, c Command) (Result, error) {
	if err := token.Check(); err != nil {
		return Result{Outcome: Cancelled, ExitCode: -1}, err
	}

	triggered := make(chan string, 1)
	lines := newLineWriter(func(line string) {
		if c.OnLine != nil {
			c.OnLine(line)
		}
		if matches(line, c.Triggers) {
			select {
			case triggered <- line:
			default:
			}
		}
	})

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = lines
	cmd.Stderr = lines
	cmd.WaitDelay = s.grace
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s: %w", domain.ErrProcessLaunchFailed, c.Path, err)
	}
	h := watch(cmd)
	if c.OnStart != nil {
		c.OnStart(h)
	}

	var hard <-chan time.Time
	if c.HardTimeout > 0 {
		timer := time.NewTimer(c.HardTimeout)
		defer timer.Stop()
		hard = timer.C
	}

	select {
	case line := <-triggered:
		Terminate(h, s.grace)
		return Result{Outcome: TriggerSeen, ExitCode: h.ExitCode(), TriggerLine: line}, nil

	case <-token.Done():
		Terminate(h, s.grace)
		return Result{Outcome: Cancelled, ExitCode: h.ExitCode()},
			fmt.Errorf("running %s: %w", filepath.Base(c.Path), domain.ErrCancelled)

	case <-hard:
		h.Kill()
		<-h.Done()
		return Result{Outcome: TimedOut, ExitCode: h.ExitCode()}, nil

	case <-h.Done():
		lines.Flush()
		select {
		case line := <-triggered:
			return Result{Outcome: TriggerSeen, ExitCode: h.ExitCode(), TriggerLine: line}, nil
		default:
		}
		code := h.ExitCode()
		if code == 0 {
			return Result{Outcome: CleanExit}, nil
		}
		return Result{Outcome: AbnormalExit, ExitCode: code}, &AbnormalExitError{Path: c.Path, Code: code}
	}
}

// Terminate asks h's process group to exit, waits up to grace, then kills
// it. It returns once the process has been reaped.
func Terminate(h *Handle, grace time.Duration) {
	if !h.Exited() {
		h.Interrupt()
		timer := time.NewTimer(grace)
		select {
		case <-h.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
	h.Kill()
	<-h.Done()
}

func matches(line string, triggers []string) bool {
	if len(triggers) == 0 {
		return false
	}
	lower := strings.ToLower(line)
	for _, t := range triggers {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// Handle is a live or finished supervised process.
type Handle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	waitErr error
	// reaped is set before the pid is released; no signal is sent after it.
	reaped  bool
	signals int
}

// watch waits for the process. Where the leader can be observed as a zombie,
// its group is killed while the pid still names it, then the leader is reaped.
func watch(cmd *exec.Cmd) *Handle {
	h := &Handle{cmd: cmd, done: make(chan struct{})}
	go func() {
		if awaitExit(cmd.Process) {
			h.mu.Lock()
			killGroup(cmd.Process)
			h.signals++
			h.reaped = true
			h.mu.Unlock()
		}
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.reaped = true
		h.mu.Unlock()
		close(h.done)
	}()
	return h
}

// Pid returns the operating system process id.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code once the process exited, -1 otherwise.
func (h *Handle) ExitCode() int {
	if !h.Exited() {
		return -1
	}
	if h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Err returns the error reported by Wait, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var exitErr *exec.ExitError
	if errors.As(h.waitErr, &exitErr) {
		return nil
	}
	return h.waitErr
}

// Interrupt sends the graceful termination signal to the process group.
func (h *Handle) Interrupt() {
	h.signal(interruptGroup)
}

// Kill force-kills the process group. Once the leader has exited it does
// nothing: its pid may already belong to someone else.
func (h *Handle) Kill() {
	h.signal(killGroup)
}

func (h *Handle) signal(send func(*os.Process)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reaped {
		return
	}
	send(h.cmd.Process)
	h.signals++
}
