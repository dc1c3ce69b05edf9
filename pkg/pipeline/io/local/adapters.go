package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/core"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/schema"
)

var (
	_ core.InputAdapter[Item]          = (*CSVInput)(nil)
	_ core.OutputAdapter[OutputRecord] = (*FileOutput)(nil)
)

// CSVInput loads items from a CSV file, or from Reader when Path is empty or "-".
type CSVInput struct {
	Path           string
	DefaultTableID string
	Reader         io.Reader
}

func (in *CSVInput) Load(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(in.Path)
	if path == "" || path == "-" {
		if in.Reader == nil {
			return nil, fmt.Errorf("no input path and no reader")
		}
		return ReadItemsCSV(in.Reader, in.DefaultTableID)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	items, err := ReadItemsCSV(f, in.DefaultTableID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}

// FileOutput stores records to a file, or to Writer when Path is empty or "-".
type FileOutput struct {
	Path   string
	Format schema.OutputFormat
	Writer io.Writer
}

func (out *FileOutput) Store(ctx context.Context, rows []OutputRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := strings.TrimSpace(out.Path)
	if path == "" || path == "-" {
		if out.Writer == nil {
			return fmt.Errorf("no output path and no writer")
		}
		return Write(out.Writer, out.Format, rows)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	// Write to a sibling temp file so a failed run never leaves a truncated output.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Write(tmp, out.Format, rows); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
