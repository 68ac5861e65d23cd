package pipeline

import (
	"fmt"
	"os"
	"sync"

	"github.com/aluiziolira/go-eurobuch/models"
	"github.com/parquet-go/parquet-go"
)

// ParquetWriter writes offers as a single Parquet file. Rows are buffered into
// row groups by the library; the footer is written on Close, so Validate is
// only meaningful afterwards.
type ParquetWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[offerRecord]
	rows   int64
	mu     sync.Mutex
}

// NewParquetWriter creates filename and prepares the schema from offerRecord.
func NewParquetWriter(filename string) (*ParquetWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create parquet file: %w", err)
	}

	return &ParquetWriter{
		file:   f,
		writer: parquet.NewGenericWriter[offerRecord](f),
	}, nil
}

// Write appends offers as rows.
func (pw *ParquetWriter) Write(offers []*models.Offer) error {
	if len(offers) == 0 {
		return nil
	}

	rows := make([]offerRecord, 0, len(offers))
	for _, offer := range offers {
		rows = append(rows, newOfferRecord(offer))
	}

	pw.mu.Lock()
	defer pw.mu.Unlock()

	n, err := pw.writer.Write(rows)
	pw.rows += int64(n)
	if err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	return nil
}

// Close writes the footer and closes the file.
func (pw *ParquetWriter) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if err := pw.writer.Close(); err != nil {
		pw.file.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return pw.file.Close()
}

// Validate ensures at least one row was written and the file is not empty.
func (pw *ParquetWriter) Validate() error {
	pw.mu.Lock()
	rows := pw.rows
	pw.mu.Unlock()

	if rows == 0 {
		return fmt.Errorf("parquet file has no rows")
	}
	return validateFile(pw.file.Name(), "parquet")
}
