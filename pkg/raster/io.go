package raster

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"golang.org/x/image/tiff"
)

// Save evaluates the raster and writes it as a snappy compressed
// parquet file in long format. Georeferencing round-trips through the
// schema metadata.
func (r *Raster) Save(ctx context.Context, path string) error {
	recs, err := r.ToRecordBatches(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %v", err)
	}
	defer f.Close()

	writer, err := pqarrow.NewFileWriter(
		recs[0].Schema(),
		f,
		parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps(),
	)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %v", err)
	}
	defer writer.Close()

	for _, rec := range recs {
		if err := writer.WriteBuffered(rec); err != nil {
			return fmt.Errorf("failed to write record batch: %v", err)
		}
	}
	return nil
}

// Open reads a raster from a parquet file written by Save.
func Open(path string) (*Raster, error) {
	recs, err := ReadParquetBatches(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	return FromRecordBatches(recs)
}

// ReadParquetBatches loads all record batches from a parquet file. The
// caller owns the batches.
func ReadParquetBatches(path string) ([]arrow.RecordBatch, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %s: %v", path, err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{
		BatchSize: 10000,
	}, memory.NewGoAllocator())
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader for %s: %v", path, err)
	}

	rr, err := reader.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get record reader for %s: %v", path, err)
	}
	defer rr.Release()

	var recs []arrow.RecordBatch
	for rr.Next() {
		rec := rr.RecordBatch()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rr.Err(); err != nil {
		for _, rec := range recs {
			rec.Release()
		}
		return nil, fmt.Errorf("error reading records from %s: %v", path, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no record batches in %s", path)
	}
	return recs, nil
}

// Sink materializes the raster into a temporary parquet file, keeping
// the evaluated result in the graph and recording the source file so
// downstream SQL can read it without re-serialization.
func (r *Raster) Sink(ctx context.Context) error {
	tempDir, err := os.MkdirTemp("", "gridkit_raster_*")
	if err != nil {
		return fmt.Errorf("failed to create temporary directory: %v", err)
	}

	filePath := filepath.Join(tempDir, "raster.parquet")
	if err := r.Save(ctx, filePath); err != nil {
		os.RemoveAll(tempDir)
		return err
	}

	r.tempDir = tempDir
	r.sourceFile = &filePath
	return nil
}

// SaveImage writes a min-max scaled 8-bit grayscale quick look of one
// band (1 based). The format follows the extension: .png, .tif/.tiff.
// Null cells render black.
func (r *Raster) SaveImage(ctx context.Context, path string, band int) error {
	s := r.Shape()
	if band < 1 || band > s.Bands {
		return fmt.Errorf("band index %d out of range [1, %d]", band, s.Bands)
	}
	buf, err := r.node.eval(ctx)
	if err != nil {
		return err
	}

	per := s.Rows * s.Cols
	off := (band - 1) * per
	lo, hi := 0.0, 0.0
	first := true
	for i := off; i < off+per; i++ {
		if buf.masked(i) {
			continue
		}
		v := buf.values[i]
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}

	img := image.NewGray(image.Rect(0, 0, s.Cols, s.Rows))
	for row := 0; row < s.Rows; row++ {
		for col := 0; col < s.Cols; col++ {
			i := off + row*s.Cols + col
			if buf.masked(i) {
				continue
			}
			img.Pix[row*img.Stride+col] = uint8((buf.values[i] - lo) * scale)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %v", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Encode(f, img)
	case ".tif", ".tiff":
		return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("unsupported image format %q: use .png, .tif or .tiff", filepath.Ext(path))
}
