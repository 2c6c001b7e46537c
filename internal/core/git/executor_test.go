package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairin/gitg/pkg/executil"
)

func TestExecutor_RevParse_uses_one_shot_executor(t *testing.T) {
	rec := &executil.RecordingExecutor{
		Outputs: map[string][]byte{"git": []byte("abc123\n")},
	}
	e := NewExecutor("git", rec)

	lines, err := e.RevParse(context.Background(), "/repo", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, lines)

	require.Len(t, rec.Commands, 1)
	assert.Equal(t, "/repo", rec.Commands[0].Dir)
	assert.Equal(t, []string{"rev-parse", "HEAD"}, rec.Commands[0].Args)
}

func TestExecutor_streaming_against_real_repo(t *testing.T) {
	dir := initRepo(t)
	e := NewExecutor("git", &executil.RealExecutor{})
	ctx := context.Background()

	t.Run("log streams commit subjects", func(t *testing.T) {
		var lines []string
		err := e.Log(ctx, dir, func(line string) { lines = append(lines, line) }, "--format=%s")
		require.NoError(t, err)
		assert.Equal(t, []string{"second", "first"}, lines)
	})

	t.Run("diff streams changed lines", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("changed\n"), 0o644))

		var lines []string
		err := e.Diff(ctx, dir, func(line string) { lines = append(lines, line) })
		require.NoError(t, err)
		assert.Contains(t, lines, "+changed")
	})

	t.Run("hash-object feeds stdin", func(t *testing.T) {
		hash, err := e.HashObject(ctx, dir, []byte("payload\n"))
		require.NoError(t, err)
		assert.Len(t, hash, 40)
	})
}

// initRepo creates a repository with two commits.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		_, err := (&executil.RealExecutor{}).RunDir(context.Background(), dir, "git", args...)
		require.NoError(t, err)
	}

	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644))
	run("add", "a.txt")
	run("commit", "-q", "-m", "first")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("two\n"), 0o644))
	run("add", "a.txt")
	run("commit", "-q", "-m", "second")

	return dir
}
