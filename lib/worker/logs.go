// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const defaultLogPageSize = 500

// LogPage is one window of a run's log file.
type LogPage struct {
	// Lines are the log lines in this window, without trailing newlines.
	Lines []string `json:"lines" cbor:"lines"`

	// NextLine is the offset to pass as since_line to continue reading.
	NextLine int `json:"next_line" cbor:"next_line"`

	// HasMore reports whether lines exist past NextLine.
	HasMore bool `json:"has_more" cbor:"has_more"`
}

// openRunLog creates (or reopens for append) the log file for a run.
func openRunLog(dir, runID string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("worker: creating log dir: %w", err)
	}
	path := filepath.Join(dir, runID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("worker: opening run log: %w", err)
	}
	return f, path, nil
}

// ReadLogPage reads up to limit lines starting at line offset
// sinceLine (0-based). A missing file yields an empty page rather than
// an error: the run may not have produced output yet, or retention may
// have removed it.
func ReadLogPage(path string, sinceLine, limit int) (LogPage, error) {
	if limit <= 0 {
		limit = defaultLogPageSize
	}
	page := LogPage{Lines: []string{}, NextLine: sinceLine}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return page, nil
		}
		return page, fmt.Errorf("worker: opening log %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		if line < sinceLine {
			line++
			continue
		}
		if len(page.Lines) == limit {
			page.HasMore = true
			break
		}
		page.Lines = append(page.Lines, scanner.Text())
		line++
	}
	if err := scanner.Err(); err != nil {
		return page, fmt.Errorf("worker: reading log %s: %w", path, err)
	}
	page.NextLine = sinceLine + len(page.Lines)
	return page, nil
}

// PruneLogs enforces retention over a worker's log directory: files
// older than maxAge go first, then the oldest files beyond the
// maxFiles cap. A zero maxAge or maxFiles disables that dimension.
// Returns the number of files removed.
func PruneLogs(dir string, maxAge time.Duration, maxFiles int, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("worker: reading log dir %s: %w", dir, err)
	}

	type logFile struct {
		path    string
		modTime time.Time
	}
	var files []logFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	removed := 0
	remove := func(path string) {
		if err := os.Remove(path); err == nil {
			removed++
		}
	}

	keep := files[:0]
	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				remove(f.path)
			} else {
				keep = append(keep, f)
			}
		}
		files = keep
	}

	if maxFiles > 0 && len(files) > maxFiles {
		for _, f := range files[:len(files)-maxFiles] {
			remove(f.path)
		}
	}
	return removed, nil
}
