package overlay

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// SnapshotSaver writes canvas snapshots to disk as PNG or JPEG.
//
// Filename format: snapshot_{seq:06d}_{timestamp}.{ext}
// Example: snapshot_000042_20251105_234517.123.png
type SnapshotSaver struct {
	canvas      *Canvas
	outputDir   string
	format      string
	jpegQuality int

	seq     atomic.Uint64
	saved   atomic.Uint64
	dropped atomic.Uint64
}

// NewSnapshotSaver creates the output directory and validates the format ("png" or "jpeg").
func NewSnapshotSaver(canvas *Canvas, outputDir, format string, jpegQuality int) (*SnapshotSaver, error) {
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("overlay: unsupported snapshot format: %s (must be png or jpeg)", format)
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 90
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("overlay: failed to create snapshot directory: %w", err)
	}

	return &SnapshotSaver{
		canvas:      canvas,
		outputDir:   outputDir,
		format:      format,
		jpegQuality: jpegQuality,
	}, nil
}

// Save writes the current canvas and returns the file path.
func (s *SnapshotSaver) Save(now time.Time) (string, error) {
	img := s.canvas.Snapshot()
	seq := s.seq.Add(1)

	name := fmt.Sprintf("snapshot_%06d_%s.%s", seq, now.Format("20060102_150405.000"), s.format)
	path := filepath.Join(s.outputDir, name)

	if err := s.write(path, img); err != nil {
		s.dropped.Add(1)
		return "", err
	}

	s.saved.Add(1)
	return path, nil
}

func (s *SnapshotSaver) write(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("overlay: failed to create snapshot: %w", err)
	}
	defer file.Close()

	switch s.format {
	case "png":
		if err := png.Encode(file, img); err != nil {
			return fmt.Errorf("overlay: PNG encode failed: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: s.jpegQuality}); err != nil {
			return fmt.Errorf("overlay: JPEG encode failed: %w", err)
		}
	}
	return nil
}

// Run saves a snapshot every interval until ctx is done.
func (s *SnapshotSaver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("overlay: snapshot interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saved, dropped := s.Stats()
			slog.Info("overlay: snapshot saver stopped", "saved", saved, "dropped", dropped)
			return nil
		case now := <-ticker.C:
			path, err := s.Save(now)
			if err != nil {
				slog.Warn("overlay: snapshot failed", "error", err)
				continue
			}
			slog.Debug("overlay: snapshot saved", "path", path)
		}
	}
}

// Stats returns current save statistics.
func (s *SnapshotSaver) Stats() (saved, dropped uint64) {
	return s.saved.Load(), s.dropped.Load()
}
