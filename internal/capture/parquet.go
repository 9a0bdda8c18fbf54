package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/flockd-io/flockd/internal/objectstore"
)

// ParquetWriter writes records to a Parquet file.
type ParquetWriter struct {
	writer *parquet.GenericWriter[Record]
	rows   int
}

// NewParquetWriter writes to w. Close must be called to finish the file.
func NewParquetWriter(w io.Writer) *ParquetWriter {
	return &ParquetWriter{writer: parquet.NewGenericWriter[Record](w)}
}

// WriteFrames appends every record of frames.
func (w *ParquetWriter) WriteFrames(frames []Frame) error {
	for _, f := range frames {
		if len(f.Records) == 0 {
			continue
		}
		n, err := w.writer.Write(f.Records)
		if err != nil {
			return fmt.Errorf("parquet: write records: %w", err)
		}
		if n != len(f.Records) {
			return fmt.Errorf("parquet: wrote %d of %d records", n, len(f.Records))
		}
		w.rows += n
	}
	return nil
}

// Rows returns the number of records written.
func (w *ParquetWriter) Rows() int { return w.rows }

// Close flushes the footer.
func (w *ParquetWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("parquet: close: %w", err)
	}
	return nil
}

// ExportParquet writes every captured record of a run to w and returns the
// number of rows.
func ExportParquet(ctx context.Context, store objectstore.Store, prefix, runID string, w io.Writer) (int, error) {
	keys, err := ListSegments(ctx, store, prefix, runID)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("capture: no segments for run %s", runID)
	}
	pw := NewParquetWriter(w)
	for _, key := range keys {
		frames, err := LoadSegment(ctx, store, key)
		if err != nil {
			return 0, err
		}
		if err := pw.WriteFrames(frames); err != nil {
			return 0, err
		}
	}
	if err := pw.Close(); err != nil {
		return 0, err
	}
	return pw.Rows(), nil
}

// ReadParquet reads every record from an in-memory Parquet file.
func ReadParquet(data []byte) ([]Record, error) {
	reader := parquet.NewGenericReader[Record](bytes.NewReader(data))
	defer reader.Close()

	n := reader.NumRows()
	if n == 0 {
		return nil, nil
	}
	records := make([]Record, int(n))
	read, err := reader.Read(records)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("parquet: read records: %w", err)
	}
	return records[:read], nil
}
