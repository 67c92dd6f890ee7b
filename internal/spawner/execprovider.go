package spawner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
)

// ExecHeadlessProvider is the default HeadlessProvider: it shells out to an
// agent CLI executable and frames its stdout as newline-delimited
// AgentMessage JSON, one object per line. This is the concrete counterpart
// to the interfaces in provider.go; a deployment swaps it for another
// HeadlessProvider to talk to a CLI with a different wire format.
type ExecHeadlessProvider struct {
	// DefaultExecutable is used when StartOptions.ExecutablePath is empty.
	DefaultExecutable string
	// Args are appended after the executable path as given; no placeholder
	// in them is substituted. A non-empty opts.InitialPrompt is always
	// written as the first line on the child's stdin.
	Args   []string
	logger *logger.Logger
}

// NewExecHeadlessProvider constructs an ExecHeadlessProvider.
func NewExecHeadlessProvider(defaultExecutable string, args []string, log *logger.Logger) *ExecHeadlessProvider {
	if log == nil {
		log = logger.Default()
	}
	return &ExecHeadlessProvider{
		DefaultExecutable: defaultExecutable,
		Args:              args,
		logger:            log.WithFields(zap.String("component", "exec-headless-provider")),
	}
}

func (p *ExecHeadlessProvider) resolveExecutable(opts StartOptions) string {
	if opts.ExecutablePath != "" {
		return opts.ExecutablePath
	}
	return p.DefaultExecutable
}

// Start launches a fresh headless run.
func (p *ExecHeadlessProvider) Start(ctx context.Context, opts StartOptions) (HeadlessHandle, error) {
	return p.launch(ctx, opts, "")
}

// Resume launches the CLI with "--resume <providerSessionID>" placed ahead
// of the configured Args.
func (p *ExecHeadlessProvider) Resume(ctx context.Context, providerSessionID string, opts StartOptions) (HeadlessHandle, error) {
	return p.launch(ctx, opts, providerSessionID)
}

func (p *ExecHeadlessProvider) launch(ctx context.Context, opts StartOptions, resumeID string) (HeadlessHandle, error) {
	executable := p.resolveExecutable(opts)
	if executable == "" {
		return nil, fmt.Errorf("exec headless provider: no executable configured")
	}

	args := make([]string, 0, len(p.Args)+2)
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	args = append(args, p.Args...)

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = opts.WorkingDirectory
	cmd.Env = buildEnv(opts)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", executable, err)
	}

	h := &execHeadlessHandle{
		cmd:    cmd,
		stdin:  stdin,
		ch:     make(chan AgentMessage, 64),
		done:   make(chan struct{}),
		logger: p.logger,
	}

	go h.drainStderr(stderr)
	go h.readLoop(stdout)

	if opts.InitialPrompt != "" {
		if err := h.Send(opts.InitialPrompt); err != nil {
			p.logger.Warn("failed to write initial prompt", zap.Error(err))
		}
	}

	return h, nil
}

func buildEnv(opts StartOptions) []string {
	env := os.Environ()
	for k, v := range opts.EnvironmentVariables {
		env = append(env, k+"="+v)
	}
	if opts.StoneforgeRoot != "" {
		env = append(env, "STONEFORGE_ROOT="+opts.StoneforgeRoot)
	}
	if opts.Model != "" {
		env = append(env, "STONEFORGE_MODEL="+opts.Model)
	}
	return env
}

// execHeadlessHandle reads one AgentMessage per newline from a child
// process's stdout, mirroring claudecode.Client's scan-then-unmarshal loop.
type execHeadlessHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	ch     chan AgentMessage
	logger *logger.Logger

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func (h *execHeadlessHandle) Messages() <-chan AgentMessage { return h.ch }

func (h *execHeadlessHandle) Send(userMessage string) error {
	_, err := io.WriteString(h.stdin, userMessage+"\n")
	return err
}

func (h *execHeadlessHandle) Interrupt() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(os.Interrupt)
}

func (h *execHeadlessHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()

	_ = h.stdin.Close()
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	return nil
}

func (h *execHeadlessHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHeadlessHandle) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		h.logger.Debug("agent stderr", zap.String("line", scanner.Text()))
	}
}

func (h *execHeadlessHandle) readLoop(stdout io.Reader) {
	defer close(h.ch)

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-h.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg AgentMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			h.logger.Warn("failed to parse agent message", zap.Error(err), zap.ByteString("line", line))
			continue
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		if !msg.IsValid() {
			h.logger.Warn("dropping agent message with unknown type", zap.String("type", string(msg.Type)))
			continue
		}

		select {
		case h.ch <- msg:
		case <-h.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		h.logger.Debug("agent stdout read loop ended", zap.Error(err))
	}
}

// ExecInteractiveProvider starts an agent executable attached to a PTY, for
// interactive (human-in-the-loop) sessions.
type ExecInteractiveProvider struct {
	DefaultExecutable string
	Args              []string
	logger            *logger.Logger
}

// NewExecInteractiveProvider constructs an ExecInteractiveProvider.
func NewExecInteractiveProvider(defaultExecutable string, args []string, log *logger.Logger) *ExecInteractiveProvider {
	if log == nil {
		log = logger.Default()
	}
	return &ExecInteractiveProvider{
		DefaultExecutable: defaultExecutable,
		Args:              args,
		logger:            log.WithFields(zap.String("component", "exec-interactive-provider")),
	}
}

func (p *ExecInteractiveProvider) Start(ctx context.Context, opts StartOptions, cols, rows uint16) (InteractiveHandle, error) {
	executable := opts.ExecutablePath
	if executable == "" {
		executable = p.DefaultExecutable
	}
	if executable == "" {
		return nil, fmt.Errorf("exec interactive provider: no executable configured")
	}

	cmd := exec.CommandContext(ctx, executable, p.Args...)
	cmd.Dir = opts.WorkingDirectory
	cmd.Env = buildEnv(opts)

	pty, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return nil, fmt.Errorf("start %s under pty: %w", executable, err)
	}

	return &execInteractiveHandle{cmd: cmd, pty: pty}, nil
}

type execInteractiveHandle struct {
	cmd *exec.Cmd
	pty ptyHandle
}

func (h *execInteractiveHandle) PTY() ptyHandle { return h.pty }

func (h *execInteractiveHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execInteractiveHandle) Wait() (exitCode int, signal string, err error) {
	waitErr := h.cmd.Wait()
	_ = h.pty.Close()
	if waitErr == nil {
		return 0, "", nil
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), "", nil
	}
	return -1, "", waitErr
}

func (h *execInteractiveHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
