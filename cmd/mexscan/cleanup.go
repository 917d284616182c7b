package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// runDir is one run_<id> directory under the output root, stamped
// with its last modification time.
type runDir struct {
	Path    string
	ModTime time.Time
}

func cleanupCommand(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	outputDir := fs.String("output", "runs", "directory holding run_<id> folders")
	keepDays := fs.Int("keep-days", 7, "remove runs older than this many days")
	keepLast := fs.Int("keep-last", 20, "always keep this many newest runs")
	dryRun := fs.Bool("dry-run", false, "list what would be removed without removing")
	verbose := fs.Bool("verbose", false, "print kept runs too")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *keepDays < 0 || *keepLast < 0 {
		fmt.Fprintln(os.Stderr, "keep-days and keep-last must not be negative")
		return 2
	}

	dirs, err := listRunDirs(*outputDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	now := time.Now()
	removals := selectRemovals(dirs, *keepDays, *keepLast, now)
	remove := make(map[string]bool, len(removals))
	for _, d := range removals {
		remove[d.Path] = true
	}

	removed := 0
	for _, d := range dirs {
		if !remove[d.Path] {
			if *verbose {
				fmt.Printf("keep   %s\n", d.Path)
			}
			continue
		}
		age := now.Sub(d.ModTime).Hours() / 24
		if *dryRun {
			fmt.Printf("would remove %s (%.1f days old)\n", d.Path, age)
			removed++
			continue
		}
		if err := os.RemoveAll(d.Path); err != nil {
			fmt.Fprintf(os.Stderr, "remove %s: %v\n", d.Path, err)
			return 1
		}
		fmt.Printf("removed %s (%.1f days old)\n", d.Path, age)
		removed++
	}
	fmt.Printf("%d of %d runs removed\n", removed, len(dirs))
	return 0
}

func listRunDirs(outputDir string) ([]runDir, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	dirs := make([]runDir, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "run_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		dirs = append(dirs, runDir{
			Path:    filepath.Join(outputDir, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	return dirs, nil
}

// selectRemovals returns the run directories to delete: the newest
// keepLast runs are always kept, and of the rest only those older
// than keepDays are removed.
func selectRemovals(dirs []runDir, keepDays, keepLast int, now time.Time) []runDir {
	sorted := make([]runDir, len(dirs))
	copy(sorted, dirs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ModTime.After(sorted[j].ModTime)
	})

	cutoff := now.Add(-time.Duration(keepDays) * 24 * time.Hour)
	var removals []runDir
	for i, d := range sorted {
		if i < keepLast {
			continue
		}
		if d.ModTime.Before(cutoff) {
			removals = append(removals, d)
		}
	}
	return removals
}
