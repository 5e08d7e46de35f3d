package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/codesync/codesync/internal/language"
	"github.com/codesync/codesync/internal/workspace"
)

// Kind classifies how an execution ended.
type Kind string

const (
	KindCompleted        Kind = "completed"
	KindTimedOut         Kind = "timed_out"
	KindToolchainMissing Kind = "toolchain_missing"
	KindInternal         Kind = "internal_error"
)

// Request is one execution of user-submitted source.
// When Room and Filename are both set the source is persisted into the room
// first and the room directory becomes the working root; otherwise the run
// is fully ephemeral in a private temp directory.
type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"input"`
	Room     string `json:"room_id,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Result is the normalized outcome delivered to clients.
type Result struct {
	Output   string `json:"output"`
	Error    bool   `json:"error"`
	ExitCode int    `json:"exit_code"`
	Kind     Kind   `json:"kind"`
}

var classRe = regexp.MustCompile(`public\s+class\s+(\w+)`)

// Runner executes requests against host toolchains, one isolated working
// directory per call. Ephemeral runs own a private temp directory; runs
// rooted in a room directory take that room's run lock, since two processes
// in one directory would clobber each other's artifacts.
type Runner struct {
	store   *workspace.Store
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	roomRuns map[string]*sync.Mutex
}

func New(store *workspace.Store, timeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		store:    store,
		timeout:  timeout,
		logger:   logger,
		roomRuns: make(map[string]*sync.Mutex),
	}
}

func (r *Runner) roomLock(room string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.roomRuns[room]
	if !ok {
		l = &sync.Mutex{}
		r.roomRuns[room] = l
	}
	return l
}

// Run takes a request to completion or timeout. It never panics; every
// failure mode maps to a typed Result.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	profile, ok := language.Lookup(req.Language)
	if !ok {
		return Result{
			Output: fmt.Sprintf("Language '%s' not supported", req.Language),
			Error:  true,
			Kind:   KindToolchainMissing,
		}
	}

	if profile.Markup {
		return Result{
			Output: "HTML/CSS files are rendered in preview, not executed.",
			Kind:   KindCompleted,
		}
	}

	if req.Room != "" && req.Filename != "" {
		l := r.roomLock(req.Room)
		l.Lock()
		defer l.Unlock()
	}

	root, sourceFile, classname, cleanup, res := r.materialize(req, profile)
	if res != nil {
		return *res
	}
	defer cleanup()

	executable := filepath.Join(root, "program")
	sub := func(tok string) string {
		tok = strings.ReplaceAll(tok, "{file}", sourceFile)
		tok = strings.ReplaceAll(tok, "{executable}", executable)
		tok = strings.ReplaceAll(tok, "{classname}", classname)
		return tok
	}

	if profile.Compiled() {
		argv := substitute(profile.Compile, sub)
		out, err := r.runStep(ctx, root, argv, "")
		if err != nil {
			return r.stepFailure(req.Language, argv[0], err)
		}
		if out.exitCode != 0 {
			// Compiler diagnostics, clearly marked; the run step is never
			// attempted after a failed compile.
			return Result{
				Output:   "Compilation Error:\n" + out.stderr,
				Error:    true,
				ExitCode: out.exitCode,
				Kind:     KindCompleted,
			}
		}
	}

	argv := substitute(profile.Run, sub)
	out, err := r.runStep(ctx, root, argv, req.Stdin)
	if err != nil {
		return r.stepFailure(req.Language, argv[0], err)
	}

	output := out.stdout
	if out.stderr != "" {
		output += "\n[stderr]:\n" + out.stderr
	}
	if output == "" {
		output = "[No output]"
	}
	return Result{
		Output:   output,
		Error:    out.exitCode != 0,
		ExitCode: out.exitCode,
		Kind:     KindCompleted,
	}
}

// materialize picks the working root and writes the source file into it.
// The returned cleanup removes the temp directory on the ephemeral path and
// is a no-op on the room path.
func (r *Runner) materialize(req Request, profile language.Profile) (root, sourceFile, classname string, cleanup func(), res *Result) {
	cleanup = func() {}

	if req.Room != "" && req.Filename != "" {
		dir, err := r.store.RoomDir(req.Room)
		if err != nil {
			return "", "", "", cleanup, &Result{Output: "Room directory not found", Error: true, Kind: KindInternal}
		}
		if _, statErr := os.Stat(dir); statErr != nil {
			return "", "", "", cleanup, &Result{Output: "Room directory not found", Error: true, Kind: KindInternal}
		}
		// Persist the submitted snapshot before running; that snapshot is
		// what executes even if concurrent edits land during the run.
		if err := r.store.Write(req.Room, req.Filename, req.Code); err != nil {
			return "", "", "", cleanup, &Result{Output: "Failed to save file before execution.", Error: true, Kind: KindInternal}
		}
		base := filepath.Base(req.Filename)
		classname = strings.TrimSuffix(base, filepath.Ext(base))
		return dir, filepath.Join(dir, req.Filename), classname, cleanup, nil
	}

	dir, err := os.MkdirTemp("", "codesync-run-*")
	if err != nil {
		return "", "", "", cleanup, &Result{Output: "Execution Error: " + err.Error(), Error: true, Kind: KindInternal}
	}
	cleanup = func() { os.RemoveAll(dir) }

	if req.Language == "java" {
		classname = "Main"
		if m := classRe.FindStringSubmatch(req.Code); m != nil {
			classname = m[1]
		}
		sourceFile = filepath.Join(dir, classname+".java")
	} else {
		classname = "program"
		sourceFile = filepath.Join(dir, "code"+profile.Extension)
	}

	if err := os.WriteFile(sourceFile, []byte(req.Code), 0o644); err != nil {
		cleanup()
		return "", "", "", func() {}, &Result{Output: "Execution Error: " + err.Error(), Error: true, Kind: KindInternal}
	}
	return dir, sourceFile, classname, cleanup, nil
}

type stepOutput struct {
	stdout   string
	stderr   string
	exitCode int
}

var errTimedOut = errors.New("runner: step timed out")

// runStep executes one argv under the wall-clock limit. The child gets its
// own process group and the whole group is killed on timeout, so grandchild
// processes cannot outlive the deadline.
func (r *Runner) runStep(ctx context.Context, dir string, argv []string, stdin string) (stepOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stepOutput{}, errTimedOut
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stepOutput{
				stdout:   stdout.String(),
				stderr:   stderr.String(),
				exitCode: exitErr.ExitCode(),
			}, nil
		}
		return stepOutput{}, err
	}
	return stepOutput{stdout: stdout.String(), stderr: stderr.String()}, nil
}

func (r *Runner) stepFailure(lang, program string, err error) Result {
	switch {
	case errors.Is(err, errTimedOut):
		return Result{
			Output: fmt.Sprintf("Error: Execution timed out (max %ds)", int(r.timeout.Seconds())),
			Error:  true,
			Kind:   KindTimedOut,
		}
	case errors.Is(err, exec.ErrNotFound):
		r.logger.Warn("toolchain missing", zap.String("language", lang), zap.String("program", program))
		return Result{
			Output: fmt.Sprintf("Error: Compiler/Interpreter not found via PATH. (%s)", program),
			Error:  true,
			Kind:   KindToolchainMissing,
		}
	default:
		r.logger.Error("execution failed", zap.String("language", lang), zap.Error(err))
		return Result{
			Output: "Execution Error: " + err.Error(),
			Error:  true,
			Kind:   KindInternal,
		}
	}
}

func substitute(template []string, sub func(string) string) []string {
	argv := make([]string, len(template))
	for i, tok := range template {
		argv[i] = sub(tok)
	}
	return argv
}
