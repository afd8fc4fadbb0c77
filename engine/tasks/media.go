package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lumenforge/contentbase/pkg/objstore"
)

// localizeInput copies a library-relative path's bytes to a local temp
// file so exec.Command-based tools (ffmpeg, ffprobe) that need a real
// filesystem path can operate on it regardless of the Storage Façade
// backend. The returned cleanup removes the temp file.
func localizeInput(ctx context.Context, files objstore.Store, relPath string) (string, func(), error) {
	data, err := files.Read(ctx, relPath)
	if err != nil {
		return "", nil, fmt.Errorf("tasks: read %q: %w", relPath, err)
	}
	f, err := os.CreateTemp("", "contentbase-in-*"+filepath.Ext(relPath))
	if err != nil {
		return "", nil, fmt.Errorf("tasks: create temp input: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("tasks: write temp input: %w", err)
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// uploadFile writes a local file's bytes to a library-relative path.
func uploadFile(ctx context.Context, files objstore.Store, localPath, destPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("tasks: read local output %q: %w", localPath, err)
	}
	return files.Write(ctx, destPath, data)
}

// runFFmpeg invokes ffmpeg with args, surfacing stderr on failure.
func runFFmpeg(ctx context.Context, args ...string) error {
	return runTool(ctx, "ffmpeg", args...)
}

// runFFprobe invokes ffprobe with args, returning stdout.
func runFFprobe(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tasks: ffprobe %v: %w: %s", args, err, stderr.String())
	}
	return stdout.String(), nil
}

// probeDurationSeconds runs ffprobe against a local media file and returns
// its container duration, used to cap the last extracted frame's window at
// the file's real end instead of overshooting past it.
func probeDurationSeconds(ctx context.Context, path string) (float64, error) {
	out, err := runFFprobe(ctx, "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return 0, err
	}
	return parseFFprobeDuration(out)
}

// parseFFprobeDuration parses ffprobe's bare "format=duration" output,
// split out so the parsing logic is testable without invoking ffprobe.
func parseFFprobeDuration(out string) (float64, error) {
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("tasks: parse ffprobe duration %q: %w", out, err)
	}
	return d, nil
}

func runTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tasks: %s %v: %w: %s", name, args, err, stderr.String())
	}
	return nil
}
