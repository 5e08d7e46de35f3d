package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codesync/codesync/internal/language"
	"github.com/codesync/codesync/internal/workspace"
)

func mustProfile(t *testing.T, name string) language.Profile {
	t.Helper()
	p, ok := language.Lookup(name)
	require.True(t, ok)
	return p
}

func newTestRunner(t *testing.T, timeout time.Duration) (*Runner, *workspace.Store) {
	t.Helper()
	store, err := workspace.New(t.TempDir(), 1024*1024)
	require.NoError(t, err)
	return New(store, timeout, zap.NewNop()), store
}

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}

// tempRunDirs counts leftover per-request execution directories.
func tempRunDirs(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "codesync-run-*"))
	require.NoError(t, err)
	return len(matches)
}

func TestRunUnsupportedLanguage(t *testing.T) {
	r, _ := newTestRunner(t, time.Second)

	res := r.Run(context.Background(), Request{Language: "cobol", Code: "x"})

	assert.Equal(t, KindToolchainMissing, res.Kind)
	assert.True(t, res.Error)
	assert.Equal(t, "Language 'cobol' not supported", res.Output)
}

func TestRunMarkupShortCircuits(t *testing.T) {
	r, _ := newTestRunner(t, time.Second)

	for _, lang := range []string{"html", "css"} {
		res := r.Run(context.Background(), Request{Language: lang, Code: "<p>hi</p>"})
		assert.Equal(t, KindCompleted, res.Kind, lang)
		assert.False(t, res.Error, lang)
		assert.Equal(t, "HTML/CSS files are rendered in preview, not executed.", res.Output, lang)
	}
}

func TestRunPythonHello(t *testing.T) {
	requireTool(t, "python3")
	r, _ := newTestRunner(t, 10*time.Second)

	before := tempRunDirs(t)
	res := r.Run(context.Background(), Request{Language: "python", Code: `print("hi")`})

	assert.Equal(t, KindCompleted, res.Kind)
	assert.False(t, res.Error)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hi\n", res.Output)
	assert.Equal(t, before, tempRunDirs(t), "temp directory leaked")
}

func TestRunStdinPayload(t *testing.T) {
	requireTool(t, "python3")
	r, _ := newTestRunner(t, 10*time.Second)

	res := r.Run(context.Background(), Request{
		Language: "python",
		Code:     "print(input())",
		Stdin:    "from stdin\n",
	})

	assert.False(t, res.Error)
	assert.Equal(t, "from stdin\n", res.Output)
}

func TestRunNonZeroExit(t *testing.T) {
	requireTool(t, "python3")
	r, _ := newTestRunner(t, 10*time.Second)

	res := r.Run(context.Background(), Request{
		Language: "python",
		Code:     "import sys\nsys.exit(3)",
	})

	assert.Equal(t, KindCompleted, res.Kind)
	assert.True(t, res.Error)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "[No output]", res.Output)
}

func TestRunStderrDelimited(t *testing.T) {
	requireTool(t, "python3")
	r, _ := newTestRunner(t, 10*time.Second)

	res := r.Run(context.Background(), Request{
		Language: "python",
		Code:     "import sys\nprint(\"out\")\nprint(\"boom\", file=sys.stderr)",
	})

	assert.False(t, res.Error)
	assert.Contains(t, res.Output, "out\n")
	assert.Contains(t, res.Output, "[stderr]:\nboom\n")
}

func TestRunTimeoutCleansUp(t *testing.T) {
	requireTool(t, "python3")
	r, _ := newTestRunner(t, 300*time.Millisecond)

	before := tempRunDirs(t)
	res := r.Run(context.Background(), Request{
		Language: "python",
		Code:     "import time\ntime.sleep(10)",
	})

	assert.Equal(t, KindTimedOut, res.Kind)
	assert.True(t, res.Error)
	assert.Equal(t, "Error: Execution timed out (max 0s)", res.Output)
	assert.Equal(t, before, tempRunDirs(t), "temp directory leaked after timeout")
}

func TestRunToolchainMissing(t *testing.T) {
	r, _ := newTestRunner(t, time.Second)

	// An empty PATH makes every interpreter lookup fail, which is the
	// launch-failure path, not a program failure.
	t.Setenv("PATH", "")

	res := r.Run(context.Background(), Request{Language: "python", Code: `print("hi")`})

	assert.Equal(t, KindToolchainMissing, res.Kind)
	assert.True(t, res.Error)
	assert.Contains(t, res.Output, "not found via PATH")
}

func TestRunCompileFailureSkipsRunStep(t *testing.T) {
	requireTool(t, "gcc")
	r, store := newTestRunner(t, 10*time.Second)
	require.NoError(t, store.EnsureRoom("abc"))

	res := r.Run(context.Background(), Request{
		Language: "c",
		Code:     "int main( {", // malformed on purpose
		Room:     "abc",
		Filename: "broken.c",
	})

	assert.Equal(t, KindCompleted, res.Kind)
	assert.True(t, res.Error)
	assert.True(t, strings.HasPrefix(res.Output, "Compilation Error:\n"), res.Output)

	// The run step never happened: no artifact was produced.
	dir, err := store.RoomDir("abc")
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "program"))
	assert.True(t, os.IsNotExist(statErr), "compile failure must not leave an artifact")
}

func TestRunPersistBeforeRun(t *testing.T) {
	requireTool(t, "python3")
	r, store := newTestRunner(t, 10*time.Second)
	require.NoError(t, store.EnsureRoom("abc"))

	res := r.Run(context.Background(), Request{
		Language: "python",
		Code:     `print("saved run")`,
		Room:     "abc",
		Filename: "job.py",
	})

	assert.False(t, res.Error)
	assert.Equal(t, "saved run\n", res.Output)

	// The submitted snapshot was persisted into the room before running.
	content, err := store.Read("abc", "job.py")
	require.NoError(t, err)
	assert.Equal(t, `print("saved run")`, content)
}

func TestRunPersistSaveFailure(t *testing.T) {
	store, err := workspace.New(t.TempDir(), 8) // tiny cap
	require.NoError(t, err)
	r := New(store, time.Second, zap.NewNop())
	require.NoError(t, store.EnsureRoom("abc"))

	res := r.Run(context.Background(), Request{
		Language: "python",
		Code:     "print('way past the byte cap')",
		Room:     "abc",
		Filename: "big.py",
	})

	assert.Equal(t, KindInternal, res.Kind)
	assert.True(t, res.Error)
	assert.Equal(t, "Failed to save file before execution.", res.Output)
}

func TestRunPersistUnknownRoom(t *testing.T) {
	r, _ := newTestRunner(t, time.Second)

	res := r.Run(context.Background(), Request{
		Language: "python",
		Code:     "print(1)",
		Room:     "never-created",
		Filename: "x.py",
	})

	assert.Equal(t, KindInternal, res.Kind)
	assert.Equal(t, "Room directory not found", res.Output)
}

func TestMaterializeJavaClassname(t *testing.T) {
	r, _ := newTestRunner(t, time.Second)
	profile := mustProfile(t, "java")

	root, sourceFile, classname, cleanup, res := r.materialize(Request{
		Language: "java",
		Code:     "public class Greeter {\n  public static void main(String[] a) {}\n}",
	}, profile)
	require.Nil(t, res)
	defer cleanup()

	assert.Equal(t, "Greeter", classname)
	assert.Equal(t, filepath.Join(root, "Greeter.java"), sourceFile)
}

func TestMaterializeJavaDefaultClassname(t *testing.T) {
	r, _ := newTestRunner(t, time.Second)
	profile := mustProfile(t, "java")

	root, sourceFile, classname, cleanup, res := r.materialize(Request{
		Language: "java",
		Code:     "class lowercase {}",
	}, profile)
	require.Nil(t, res)
	defer cleanup()

	assert.Equal(t, "Main", classname)
	assert.Equal(t, filepath.Join(root, "Main.java"), sourceFile)
}

func TestConcurrentEphemeralRuns(t *testing.T) {
	requireTool(t, "python3")
	r, _ := newTestRunner(t, 10*time.Second)

	const n = 8
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			results <- r.Run(context.Background(), Request{
				Language: "python",
				Code:     "print(" + string(rune('0'+i)) + ")",
			})
		}(i)
	}

	for i := 0; i < n; i++ {
		res := <-results
		assert.False(t, res.Error)
		assert.Equal(t, KindCompleted, res.Kind)
	}
}
