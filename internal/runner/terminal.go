package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

// allowedPrograms is the fixed allow-list for the shared terminal. Only the
// leading token of a command line is checked against it; later tokens are
// passed through verbatim as argv entries and are never re-interpreted by a
// shell, so metacharacters in them are inert.
var allowedPrograms = map[string]struct{}{
	"ls": {}, "dir": {}, "pwd": {}, "cd": {}, "echo": {}, "cat": {},
	"grep": {}, "wc": {}, "head": {}, "tail": {},
	"mkdir": {}, "rm": {}, "touch": {}, "mv": {}, "cp": {},
	"python": {}, "python3": {}, "py": {}, "node": {}, "npm": {}, "npx": {},
	"java": {}, "javac": {}, "gcc": {}, "g++": {}, "go": {}, "cargo": {},
	"rustc": {}, "ruby": {}, "php": {},
	"git": {}, "pip": {}, "whoami": {}, "date": {},
}

// Terminal runs allow-listed commands inside a room's directory.
type Terminal struct {
	timeout time.Duration
}

func NewTerminal(timeout time.Duration) *Terminal {
	return &Terminal{timeout: timeout}
}

// Exec tokenizes the command line exactly once, validates the leading token
// and executes the explicit argv with the room directory as cwd. Rejected
// commands return an explanatory message and spawn nothing.
func (t *Terminal) Exec(ctx context.Context, roomDir, commandLine string) string {
	argv, err := shellwords.Parse(commandLine)
	if err != nil {
		return fmt.Sprintf("Error: %s", err)
	}
	if len(argv) == 0 {
		return "Command '' not in allowed list."
	}

	if !Allowed(argv[0]) {
		return fmt.Sprintf("Command '%s' not in allowed list.", argv[0])
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = roomDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out (max %ds)", int(t.timeout.Seconds()))
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return fmt.Sprintf("Error: %s", err)
		}
	}
	return stdout.String() + stderr.String()
}

// Allowed reports whether a program name passes the allow-list. Directory
// components and a trailing extension (e.g. .exe) are stripped before the
// comparison.
func Allowed(token string) bool {
	base := filepath.Base(token)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if _, ok := allowedPrograms[base]; ok {
		return true
	}
	_, ok := allowedPrograms[token]
	return ok
}
