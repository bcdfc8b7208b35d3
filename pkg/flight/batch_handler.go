package flight

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"gridkit/pkg/raster"
)

// ParquetBatchHandler spills incoming record batches to parquet files
// so large raster streams do not have to stay resident in memory.
type ParquetBatchHandler struct {
	tempDir      string
	currentFiles []string
	schema       *arrow.Schema
	totalRows    int64
	batchIndex   int
}

// NewParquetBatchHandler creates a handler with its own temp directory.
func NewParquetBatchHandler() (*ParquetBatchHandler, error) {
	tempDir, err := os.MkdirTemp("", "gridkit_flight_batch_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %v", err)
	}

	return &ParquetBatchHandler{
		tempDir: tempDir,
	}, nil
}

// AddRecordBatch writes one record batch to its own parquet file under
// the handler's temp directory.
func (h *ParquetBatchHandler) AddRecordBatch(rec arrow.RecordBatch) error {
	if h.schema == nil {
		h.schema = rec.Schema()
	}
	h.totalRows += rec.NumRows()

	h.batchIndex++
	filePath := filepath.Join(h.tempDir, fmt.Sprintf("batch_%d.parquet", h.batchIndex))

	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %v", err)
	}
	defer f.Close()

	writer, err := pqarrow.NewFileWriter(
		h.schema,
		f,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps(),
	)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %v", err)
	}
	defer writer.Close()

	if err := writer.WriteBuffered(rec); err != nil {
		return fmt.Errorf("failed to write record batch: %v", err)
	}
	log.Printf("Wrote batch %d with %d rows to %s", h.batchIndex, rec.NumRows(), filePath)

	h.currentFiles = append(h.currentFiles, filePath)
	return nil
}

// MergeParquetFiles concatenates all spilled files into a single
// parquet file and returns its path.
func (h *ParquetBatchHandler) MergeParquetFiles() (string, error) {
	if len(h.currentFiles) == 0 {
		return "", fmt.Errorf("no parquet files to merge")
	}

	mergedPath := filepath.Join(h.tempDir, fmt.Sprintf("merged_%d.parquet", time.Now().UnixNano()))

	mergedFile, err := os.Create(mergedPath)
	if err != nil {
		return "", fmt.Errorf("failed to create merged parquet file: %v", err)
	}
	defer mergedFile.Close()

	mergedWriter, err := pqarrow.NewFileWriter(
		h.schema,
		mergedFile,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create merged parquet writer: %v", err)
	}
	defer mergedWriter.Close()

	for _, filePath := range h.currentFiles {
		recs, err := raster.ReadParquetBatches(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read spilled file %s: %v", filePath, err)
		}

		writeErr := error(nil)
		for _, rec := range recs {
			if writeErr == nil {
				writeErr = mergedWriter.WriteBuffered(rec)
			}
			rec.Release()
		}
		if writeErr != nil {
			return "", fmt.Errorf("failed to write record to merged file: %v", writeErr)
		}
	}

	return mergedPath, nil
}

// Cleanup removes the temporary directory and all files.
func (h *ParquetBatchHandler) Cleanup() error {
	if h.tempDir != "" {
		return os.RemoveAll(h.tempDir)
	}
	return nil
}
