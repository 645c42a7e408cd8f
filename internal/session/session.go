// Package session drives one recording: it spawns the instrumented child,
// waits for its trace buffers, polls events through the translator into
// the trace writer, drains after exit, and tears everything down on every
// exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"fibertrace/internal/annotate"
	"fibertrace/internal/config"
	"fibertrace/internal/cursor"
	"fibertrace/internal/event"
	"fibertrace/internal/output"
	"fibertrace/internal/timesync"
	"fibertrace/internal/translator"
)

// The three variables that switch the child's runtime instrumentation on.
// Buffers are retained after exit so the final drain can still read them.
const (
	envEnable = "FIBERTRACE_TRACE"
	envDir    = "FIBERTRACE_TRACE_DIR"
	envRetain = "FIBERTRACE_RETAIN_BUFFERS"
)

const (
	// cursorRetryDelay is the fixed delay between cursor-open attempts
	// while the child has not created its buffers yet.
	cursorRetryDelay = 100 * time.Millisecond

	// viewerWait caps how long the viewer hand-off waits for a first
	// event before launching anyway.
	viewerWait = time.Second
)

// Session records one run of an instrumented child process.
type Session struct {
	cfg    *config.Config
	tracer trace.Tracer // non-nil when the OTEL span mirror is enabled

	childExited atomic.Bool
	firstEvent  chan struct{}
	firstOnce   sync.Once
}

// New creates a session for cfg. tracer enables the OTEL span mirror when
// non-nil.
func New(cfg *config.Config, tracer trace.Tracer) *Session {
	return &Session{
		cfg:        cfg,
		tracer:     tracer,
		firstEvent: make(chan struct{}),
	}
}

// Run performs the whole recording. It returns once the child has exited
// and the final drain completed, or earlier on a fatal error or context
// cancellation. The trace output is flushed and closed and the buffer
// directory removed on every path out.
func (s *Session) Run(ctx context.Context) (err error) {
	// A bad annotation expression should fail before any tracing begins.
	evaluator, err := annotate.NewEvaluator(s.cfg.Annotations)
	if err != nil {
		return err
	}

	dir, err := s.bufferDir()
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Printf("warning: removing trace buffer directory: %v", rmErr)
		}
	}()

	//nolint:gosec // This is a tracer tool - launching subprocesses is its purpose
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Env = append(os.Environ(),
		envEnable+"=1",
		envDir+"="+dir,
		envRetain+"=1",
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting command: %w", err)
	}
	pid := cmd.Process.Pid
	defer s.terminate(cmd)

	// The process-wait strand: the only writer of the child-exited flag.
	go func() {
		if waitErr := cmd.Wait(); waitErr != nil {
			// Informational: the child's exit status is not our failure.
			log.Printf("child process exited with error: %v", waitErr)
		}
		s.childExited.Store(true)
	}()

	w, tw, err := s.openWriter(pid)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := w.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	s.recordMetadata(tw, evaluator, pid)

	tr := translator.New(uint64(pid), w)
	handler := &notifyHandler{session: s, translator: tr}

	cur, err := s.waitForCursor(ctx, dir, pid)
	if err != nil {
		return err
	}

	if s.cfg.Viewer != "" {
		go s.viewerHandoff(ctx)
	}

	interval := time.Duration(float64(time.Second) / s.cfg.PollHz)
	for !s.childExited.Load() {
		if _, err := cur.Read(handler); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	// One final drain for events produced between the last poll and exit.
	if _, err := cur.Read(handler); err != nil {
		return err
	}

	log.Printf("recorded %d events from %d rings and %d fibers (%d lost)",
		tr.EventCount(), tr.Registry().RingCount(), tr.Registry().FiberCount(), tr.LostCount())
	return nil
}

// bufferDir creates the directory the child emits its buffers into.
func (s *Session) bufferDir() (string, error) {
	if s.cfg.TraceDir != "" {
		if err := os.MkdirAll(s.cfg.TraceDir, 0o755); err != nil {
			return "", fmt.Errorf("creating trace buffer directory: %w", err)
		}
		return s.cfg.TraceDir, nil
	}
	dir, err := os.MkdirTemp("", "fibertrace-")
	if err != nil {
		return "", fmt.Errorf("creating trace buffer directory: %w", err)
	}
	return dir, nil
}

// openWriter builds the writer stack: the trace file, optionally fanned
// out to the OTEL span sink.
func (s *Session) openWriter(pid int) (output.Writer, *output.TraceWriter, error) {
	//nolint:gosec // PIDs are non-negative
	tw, err := output.NewTraceFile(s.cfg.Output, uint64(pid))
	if err != nil {
		return nil, nil, err
	}
	if s.tracer == nil {
		return tw, tw, nil
	}

	clock, err := timesync.NewClock()
	if err != nil {
		_ = tw.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, nil, err
	}
	sink := output.NewSpanSink(s.tracer, clock)
	return output.NewMultiWriter(tw, sink), tw, nil
}

// recordMetadata stamps the session's identity and evaluated annotations
// into the trace file's otherData section.
func (s *Session) recordMetadata(tw *output.TraceWriter, evaluator *annotate.Evaluator, pid int) {
	cmdline := strings.Join(s.cfg.FullCommand(), " ")
	tw.SetMetadata("command", cmdline)
	tw.SetMetadata("pid", pid)

	info := annotate.SessionInfo{
		Pid:     pid,
		Cmdline: cmdline,
		Args:    s.cfg.FullCommand(),
		Env:     environMap(os.Environ()),
	}
	for _, kv := range evaluator.Evaluate(info) {
		tw.SetMetadata(string(kv.Key), kv.Value.Emit())
	}
}

// waitForCursor retries opening the event cursor until the child's buffers
// exist. Attempts are unbounded; only cancellation stops the wait.
func (s *Session) waitForCursor(ctx context.Context, dir string, pid int) (*cursor.Cursor, error) {
	for {
		cur, err := cursor.Open(dir, pid)
		if err == nil {
			return cur, nil
		}
		if !errors.Is(err, cursor.ErrNoBuffers) {
			return nil, err
		}
		log.Printf("waiting for trace buffers: %v", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cursorRetryDelay):
		}
	}
}

// viewerHandoff launches the configured viewer on the trace file once the
// first event arrives, or after a fixed timeout. Best effort only.
func (s *Session) viewerHandoff(ctx context.Context) {
	select {
	case <-s.firstEvent:
	case <-time.After(viewerWait):
	case <-ctx.Done():
		return
	}

	parts := strings.Fields(s.cfg.Viewer)
	args := append(parts[1:], s.cfg.Output)
	//nolint:gosec // Viewer command comes from the operator
	viewer := exec.Command(parts[0], args...)
	viewer.Stdout = os.Stdout
	viewer.Stderr = os.Stderr
	if err := viewer.Start(); err != nil {
		log.Printf("warning: launching viewer: %v", err)
	}
}

// terminate stops the child if it is still running: SIGTERM, a short
// grace, then SIGKILL.
func (s *Session) terminate(cmd *exec.Cmd) {
	if s.childExited.Load() {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM) //nolint:errcheck // Best-effort graceful shutdown; Kill() follows
	time.Sleep(100 * time.Millisecond)
	if !s.childExited.Load() {
		_ = cmd.Process.Kill() //nolint:errcheck // Best-effort cleanup during shutdown
	}
}

// environMap parses KEY=VALUE pairs into a map.
func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			m[key] = value
		}
	}
	return m
}

// notifyHandler forwards cursor deliveries to the translator and closes
// the first-event signal exactly once.
type notifyHandler struct {
	session    *Session
	translator *translator.Translator
}

func (h *notifyHandler) HandleEvent(ev *event.Event) error {
	h.session.firstOnce.Do(func() { close(h.session.firstEvent) })
	return h.translator.HandleEvent(ev)
}

func (h *notifyHandler) HandleLost(ringID uint32, count uint64) {
	h.translator.HandleLost(ringID, count)
}
