package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(now time.Time, daysAgo int) time.Time {
	return now.Add(-time.Duration(daysAgo) * 24 * time.Hour)
}

func TestSelectRemovalsKeepsNewestRuns(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	dirs := []runDir{
		{Path: "runs/run_a", ModTime: day(now, 30)},
		{Path: "runs/run_b", ModTime: day(now, 20)},
		{Path: "runs/run_c", ModTime: day(now, 1)},
	}

	removals := selectRemovals(dirs, 7, 2, now)

	require.Len(t, removals, 1)
	assert.Equal(t, "runs/run_a", removals[0].Path)
}

func TestSelectRemovalsKeepLastOverridesAge(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	dirs := []runDir{
		{Path: "runs/run_old1", ModTime: day(now, 100)},
		{Path: "runs/run_old2", ModTime: day(now, 90)},
	}

	removals := selectRemovals(dirs, 7, 20, now)

	assert.Empty(t, removals)
}

func TestSelectRemovalsRecentRunsSurviveBeyondKeepLast(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	dirs := []runDir{
		{Path: "runs/run_a", ModTime: day(now, 2)},
		{Path: "runs/run_b", ModTime: day(now, 3)},
		{Path: "runs/run_c", ModTime: day(now, 4)},
	}

	removals := selectRemovals(dirs, 7, 1, now)

	assert.Empty(t, removals)
}

func TestSelectRemovalsZeroKeepLast(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	dirs := []runDir{
		{Path: "runs/run_old", ModTime: day(now, 10)},
		{Path: "runs/run_new", ModTime: day(now, 1)},
	}

	removals := selectRemovals(dirs, 7, 0, now)

	require.Len(t, removals, 1)
	assert.Equal(t, "runs/run_old", removals[0].Path)
}

func TestListRunDirsIgnoresForeignEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "run_20260801_aaaa"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "archive"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "run_notadir"), []byte("x"), 0o644))

	dirs, err := listRunDirs(root)

	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, filepath.Join(root, "run_20260801_aaaa"), dirs[0].Path)
}

func TestListRunDirsMissingRoot(t *testing.T) {
	_, err := listRunDirs(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestCleanupCommandRejectsNegativeArgs(t *testing.T) {
	assert.Equal(t, 2, cleanupCommand([]string{"-keep-days", "-1"}))
	assert.Equal(t, 2, cleanupCommand([]string{"-keep-last", "-5"}))
}

func TestCleanupCommandDryRunLeavesDirs(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "run_old")
	require.NoError(t, os.MkdirAll(old, 0o755))
	past := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	code := cleanupCommand([]string{"-output", root, "-keep-last", "0", "-dry-run"})

	assert.Equal(t, 0, code)
	assert.DirExists(t, old)
}

func TestCleanupCommandRemovesOldRuns(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "run_old")
	fresh := filepath.Join(root, "run_fresh")
	require.NoError(t, os.MkdirAll(old, 0o755))
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	past := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	code := cleanupCommand([]string{"-output", root, "-keep-last", "1"})

	assert.Equal(t, 0, code)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
}
