package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/metrics"
)

const (
	defaultTimeout        = 5 * time.Minute
	defaultMaxOutputBytes = 8 << 20
	stderrTailBytes       = 500
	waitDelay             = 5 * time.Second
)

// Config describes how to launch the Analyzer process.
type Config struct {
	// Command is the executable plus leading arguments, e.g. ["python3", "run_audit.py"].
	Command []string
	// WorkDir is the process working directory.
	WorkDir string
	// Env is appended to the orchestrator's environment.
	Env []string
	// Timeout bounds one invocation's wall-clock time.
	Timeout time.Duration
	// MaxOutputBytes caps captured stdout.
	MaxOutputBytes int64
}

// ExecAnalyzer runs the Analyzer as a child process per request.
type ExecAnalyzer struct {
	cfg    Config
	logger *zap.Logger
}

var _ audit.Analyzer = (*ExecAnalyzer)(nil)

// NewExec validates the config and returns an ExecAnalyzer.
func NewExec(cfg Config, logger *zap.Logger) (*ExecAnalyzer, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("analyzer command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecAnalyzer{cfg: cfg, logger: logger.Named("analyzer")}, nil
}

// Analyze runs one invocation and parses its stdout.
func (a *ExecAnalyzer) Analyze(ctx context.Context, req audit.Request) (audit.Output, error) {
	start := time.Now()
	out, err := a.run(ctx, req)
	metrics.ObserveAnalyzer(KindOf(err), time.Since(start))
	return out, err
}

func (a *ExecAnalyzer) run(ctx context.Context, req audit.Request) (audit.Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.cfg.Command[0], a.args(req)...)
	cmd.Dir = a.cfg.WorkDir
	cmd.Env = append(os.Environ(), a.cfg.Env...)
	cmd.WaitDelay = waitDelay
	stdout := &cappedBuffer{limit: a.cfg.MaxOutputBytes}
	stderr := &lineLogger{logger: a.logger.With(zap.String("job_id", req.JobID))}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return audit.Output{}, &InvocationError{
			Kind:     KindStart,
			ExitCode: -1,
			Message:  fmt.Sprintf("failed to start analyzer: %v", err),
			Err:      err,
		}
	}
	waitErr := cmd.Wait()
	stderr.Flush()
	tail := stderr.Tail()

	if waitErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return audit.Output{}, &InvocationError{
				Kind:     KindTimeout,
				ExitCode: -1,
				Message:  fmt.Sprintf("analyzer timed out after %s", a.cfg.Timeout),
				Stderr:   tail,
				Err:      runCtx.Err(),
			}
		}
		if ctx.Err() != nil {
			return audit.Output{}, &InvocationError{
				Kind:     KindTimeout,
				ExitCode: -1,
				Message:  fmt.Sprintf("analyzer canceled: %v", ctx.Err()),
				Stderr:   tail,
				Err:      ctx.Err(),
			}
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		msg := fmt.Sprintf("analyzer exited with code %d", code)
		if tail != "" {
			msg += ": " + tail
		}
		return audit.Output{}, &InvocationError{
			Kind:     KindExit,
			ExitCode: code,
			Message:  msg,
			Stderr:   tail,
			Err:      waitErr,
		}
	}
	if stdout.overflow {
		return audit.Output{}, &InvocationError{
			Kind:    KindParse,
			Message: fmt.Sprintf("analyzer output exceeds %d bytes", a.cfg.MaxOutputBytes),
			Stderr:  tail,
		}
	}

	out, err := ParseOutput(stdout.Bytes())
	if err != nil {
		var invErr *InvocationError
		if errors.As(err, &invErr) {
			invErr.Stderr = tail
		}
		return audit.Output{}, err
	}
	return out, nil
}

// args builds `<cmd...> <url> --json [--pages N] [--client NAME]`.
func (a *ExecAnalyzer) args(req audit.Request) []string {
	args := append([]string(nil), a.cfg.Command[1:]...)
	args = append(args, req.URL, "--json")
	if req.MaxPages > 0 {
		args = append(args, "--pages", strconv.Itoa(req.MaxPages))
	}
	if req.ClientName != "" {
		args = append(args, "--client", req.ClientName)
	}
	return args
}

// cappedBuffer keeps at most limit bytes and remembers whether more arrived.
type cappedBuffer struct {
	bytes.Buffer
	limit    int64
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - int64(b.Len())
	if room <= 0 {
		b.overflow = true
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.overflow = true
		b.Buffer.Write(p[:room])
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

// lineLogger forwards stderr lines to the logger and keeps the last bytes
// for error messages.
type lineLogger struct {
	mu      sync.Mutex
	logger  *zap.Logger
	partial []byte
	tail    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tail = append(l.tail, p...)
	if len(l.tail) > stderrTailBytes {
		l.tail = l.tail[len(l.tail)-stderrTailBytes:]
	}
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.emit(l.partial[:i])
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

// Flush logs any trailing line without a newline.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.partial) > 0 {
		l.emit(l.partial)
		l.partial = nil
	}
}

// Tail returns the last bytes written, trimmed. It starts on a rune
// boundary and never contains invalid UTF-8.
func (l *lineLogger) Tail() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	tail := l.tail
	for i := 0; i < utf8.UTFMax && len(tail) > 0 && !utf8.RuneStart(tail[0]); i++ {
		tail = tail[1:]
	}
	return strings.ToValidUTF8(string(bytes.TrimSpace(tail)), "\uFFFD")
}

func (l *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	l.logger.Debug("analyzer stderr", zap.ByteString("line", line))
}
