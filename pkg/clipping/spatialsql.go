package clipping

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"text/template"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/duckdb/duckdb-go/v2"

	"gridkit/pkg/geom"
	"gridkit/pkg/raster"
	"gridkit/pkg/vector"
)

const containsQuery = `
with geoms as (
	{{.GeomSelect}}
),
cells as (
	select "ROW", "COL", "X", "Y" from raster_cells where "BAND" = 1
)
select
	c."ROW" as cell_row,
	c."COL" as cell_col,
	max(case when ST_Contains(g.g, ST_Point(c."X", c."Y")) then 1 else 0 end) as inside
from cells c cross join geoms g
group by c."ROW", c."COL"
`

// cellsInside tests every cell center of the raster against the vector
// geometries and returns a row-major containment bitmap.
func cellsInside(ctx context.Context, v *vector.Vector, r *raster.Raster) ([]bool, error) {
	c, err := duckdb.NewConnector("", nil)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	conn, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ar, err := duckdb.NewArrowFromConn(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow from duckdb: %v", err)
	}

	db := sql.OpenDB(c)
	defer db.Close()
	if _, err := db.ExecContext(ctx, "INSTALL spatial; LOAD spatial;"); err != nil {
		return nil, fmt.Errorf("failed to load spatial extension: %v", err)
	}

	recs, err := r.ToRecordBatches(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	rr, err := array.NewRecordReader(recs[0].Schema(), recs)
	if err != nil {
		return nil, fmt.Errorf("failed to create cells record reader: %v", err)
	}
	defer rr.Release()

	release, err := ar.RegisterView(rr, "raster_cells")
	if err != nil {
		return nil, fmt.Errorf("failed to register raster cells view: %v", err)
	}
	defer release()

	templ, err := template.New("queryTemplate").Parse(containsQuery)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := templ.Execute(&buf, map[string]string{
		"GeomSelect": geomSelect(v, r.CRS()),
	}); err != nil {
		return nil, err
	}

	outReader, err := ar.QueryContext(ctx, buf.String())
	if err != nil {
		return nil, fmt.Errorf("failed to execute containment query: %v", err)
	}
	defer outReader.Release()

	s := r.Shape()
	inside := make([]bool, s.Rows*s.Cols)
	for outReader.Next() {
		rec := outReader.RecordBatch()
		rowIdx := rec.Schema().FieldIndices("cell_row")[0]
		colIdx := rec.Schema().FieldIndices("cell_col")[0]
		inIdx := rec.Schema().FieldIndices("inside")[0]
		rows := rec.Column(rowIdx).(*array.Int32)
		cols := rec.Column(colIdx).(*array.Int32)
		flags, err := intColumn(rec.Column(inIdx))
		if err != nil {
			return nil, err
		}
		for i := 0; i < rows.Len(); i++ {
			if flags(i) != 0 {
				inside[int(rows.Value(i))*s.Cols+int(cols.Value(i))] = true
			}
		}
	}
	return inside, nil
}

// geomSelect builds the geometry CTE body, transforming the vector CRS
// to the raster's when they differ.
func geomSelect(v *vector.Vector, rasterCRS string) string {
	var parts []string
	for _, f := range v.Features() {
		wkt := strings.ReplaceAll(f.WKT, "'", "''")
		expr := fmt.Sprintf("ST_GeomFromText('%s')", wkt)
		if !geom.SameCRS(v.CRS(), rasterCRS) {
			expr = fmt.Sprintf("ST_Transform(%s, '%s', '%s')", expr, v.CRS(), rasterCRS)
		}
		parts = append(parts, fmt.Sprintf("select %s as g", expr))
	}
	return strings.Join(parts, "\n\tunion all\n\t")
}

// intColumn reads an integer-ish arrow column regardless of the width
// DuckDB picked for the aggregate.
func intColumn(col arrow.Array) (func(int) int64, error) {
	switch a := col.(type) {
	case *array.Int8:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	case *array.Int16:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	case *array.Int32:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	case *array.Int64:
		return func(i int) int64 { return a.Value(i) }, nil
	}
	return nil, fmt.Errorf("unexpected column type %s for containment flag", col.DataType())
}
