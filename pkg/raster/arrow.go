package raster

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"gridkit/pkg/geom"
)

// Long format column names. Each row of a record batch is one cell with
// its grid indices and world coordinates, so the batches can be handed
// straight to spatial SQL.
const (
	BandColumn  = "BAND"
	RowColumn   = "ROW"
	ColColumn   = "COL"
	XColumn     = "X"
	YColumn     = "Y"
	ValueColumn = "VALUE"
)

// Schema metadata keys carrying the raster georeferencing.
const (
	metaCRS    = "gridkit:crs"
	metaAffine = "gridkit:affine"
	metaDType  = "gridkit:dtype"
	metaShape  = "gridkit:shape"
	metaNull   = "gridkit:null_value"
)

// rowsPerBatch is the row-block size of emitted record batches.
const rowsPerBatch = 256

// arrowSchema builds the long format schema with the raster metadata
// attached.
func (r *Raster) arrowSchema() *arrow.Schema {
	s := r.Shape()
	keys := []string{metaAffine, metaDType, metaShape}
	flat := r.affine.Flat()
	parts := make([]string, 6)
	for i, v := range flat {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	vals := []string{
		strings.Join(parts, " "),
		r.DType().String(),
		fmt.Sprintf("%d %d %d", s.Bands, s.Rows, s.Cols),
	}
	if r.crs != "" {
		keys = append(keys, metaCRS)
		vals = append(vals, r.crs)
	}
	if r.null != nil {
		keys = append(keys, metaNull)
		vals = append(vals, strconv.FormatFloat(*r.null, 'g', -1, 64))
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema([]arrow.Field{
		{Name: BandColumn, Type: arrow.PrimitiveTypes.Int32},
		{Name: RowColumn, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColColumn, Type: arrow.PrimitiveTypes.Int32},
		{Name: XColumn, Type: arrow.PrimitiveTypes.Float64},
		{Name: YColumn, Type: arrow.PrimitiveTypes.Float64},
		{Name: ValueColumn, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, &md)
}

// ToRecordBatches evaluates the raster and emits long format record
// batches, chunked by row blocks. Null cells become null VALUE entries.
// The caller owns the returned batches and must Release them.
func (r *Raster) ToRecordBatches(ctx context.Context) ([]arrow.RecordBatch, error) {
	buf, err := r.node.eval(ctx)
	if err != nil {
		return nil, err
	}
	s := buf.shape
	schema := r.arrowSchema()
	pool := memory.NewGoAllocator()

	var out []arrow.RecordBatch
	for band := 0; band < s.Bands; band++ {
		for row0 := 0; row0 < s.Rows; row0 += rowsPerBatch {
			row1 := min(row0+rowsPerBatch, s.Rows)
			builder := array.NewRecordBuilder(pool, schema)

			bandB := builder.Field(0).(*array.Int32Builder)
			rowB := builder.Field(1).(*array.Int32Builder)
			colB := builder.Field(2).(*array.Int32Builder)
			xB := builder.Field(3).(*array.Float64Builder)
			yB := builder.Field(4).(*array.Float64Builder)
			valB := builder.Field(5).(*array.Float64Builder)

			for row := row0; row < row1; row++ {
				for col := 0; col < s.Cols; col++ {
					i := (band*s.Rows+row)*s.Cols + col
					x, y := r.affine.CellCenter(col, row)
					bandB.Append(int32(band + 1))
					rowB.Append(int32(row))
					colB.Append(int32(col))
					xB.Append(x)
					yB.Append(y)
					if buf.masked(i) {
						valB.AppendNull()
					} else {
						valB.Append(buf.values[i])
					}
				}
			}
			rec := builder.NewRecordBatch()
			builder.Release()
			out = append(out, rec)
		}
	}
	return out, nil
}

// FromRecordBatches rebuilds a raster from long format batches produced
// by ToRecordBatches (or any query preserving the schema metadata).
func FromRecordBatches(recs []arrow.RecordBatch) (*Raster, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("no record batches provided")
	}
	schema := recs[0].Schema()
	md := schema.Metadata()

	shape, err := parseShapeMeta(metaLookup(md, metaShape))
	if err != nil {
		return nil, err
	}
	dt := Float64
	if s := metaLookup(md, metaDType); s != "" {
		if dt, err = ParseDType(s); err != nil {
			return nil, err
		}
	}
	affine, err := parseAffineMeta(metaLookup(md, metaAffine))
	if err != nil {
		return nil, err
	}

	buf := newBuffer(shape)
	var anyNull bool
	for _, rec := range recs {
		bandIdx, err := columnIndex(rec.Schema(), BandColumn)
		if err != nil {
			return nil, err
		}
		rowIdx, err := columnIndex(rec.Schema(), RowColumn)
		if err != nil {
			return nil, err
		}
		colIdx, err := columnIndex(rec.Schema(), ColColumn)
		if err != nil {
			return nil, err
		}
		valIdx, err := columnIndex(rec.Schema(), ValueColumn)
		if err != nil {
			return nil, err
		}
		bands := rec.Column(bandIdx).(*array.Int32)
		rows := rec.Column(rowIdx).(*array.Int32)
		cols := rec.Column(colIdx).(*array.Int32)
		vals, ok := rec.Column(valIdx).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("%s column must be float64, got %s", ValueColumn, rec.Column(valIdx).DataType())
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			band := int(bands.Value(i)) - 1
			row := int(rows.Value(i))
			col := int(cols.Value(i))
			if band < 0 || band >= shape.Bands || row < 0 || row >= shape.Rows || col < 0 || col >= shape.Cols {
				return nil, fmt.Errorf("cell (%d, %d, %d) outside raster shape %s", band+1, row, col, shape)
			}
			flat := (band*shape.Rows+row)*shape.Cols + col
			if vals.IsNull(i) {
				buf.ensureMask()[flat] = true
				anyNull = true
			} else {
				buf.values[flat] = vals.Value(i)
			}
		}
	}

	out := &Raster{
		node:   &leafNode{buf: buf, dt: dt},
		affine: affine,
		crs:    metaLookup(md, metaCRS),
		attrs:  map[string]string{},
	}
	if s := metaLookup(md, metaNull); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("bad null value metadata %q: %v", s, err)
		}
		out.null = &v
	} else if anyNull {
		nan := math.NaN()
		out.null = &nan
	}
	if out.null != nil {
		// Fill masked cells with the sentinel so the values stay
		// consistent with the mask.
		m := buf.ensureMask()
		for i, masked := range m {
			if masked {
				buf.values[i] = *out.null
			}
		}
	}
	return out, nil
}

func metaLookup(md arrow.Metadata, key string) string {
	if i := md.FindKey(key); i >= 0 {
		return md.Values()[i]
	}
	return ""
}

func columnIndex(schema *arrow.Schema, name string) (int, error) {
	indices := schema.FieldIndices(name)
	if len(indices) == 0 {
		return 0, fmt.Errorf("required column %s not found", name)
	}
	return indices[0], nil
}

func parseShapeMeta(s string) (Shape, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return Shape{}, fmt.Errorf("bad shape metadata %q", s)
	}
	var dims [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Shape{}, fmt.Errorf("bad shape metadata %q: %v", s, err)
		}
		dims[i] = v
	}
	return Shape{Bands: dims[0], Rows: dims[1], Cols: dims[2]}, nil
}

func parseAffineMeta(s string) (geom.Affine, error) {
	if s == "" {
		return geom.IdentityAffine(), nil
	}
	parts := strings.Fields(s)
	if len(parts) != 6 {
		return geom.Affine{}, fmt.Errorf("bad affine metadata %q", s)
	}
	var flat [6]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return geom.Affine{}, fmt.Errorf("bad affine metadata %q: %v", s, err)
		}
		flat[i] = v
	}
	// Flat order is the GDAL geotransform: C A B F D E.
	return geom.Affine{C: flat[0], A: flat[1], B: flat[2], F: flat[3], D: flat[4], E: flat[5]}, nil
}
