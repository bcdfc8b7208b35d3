// Package projection handles coordinate reference system transforms.
// The actual math is delegated to the DuckDB spatial extension's
// ST_Transform over registered Arrow views.
package projection

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"text/template"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/duckdb/duckdb-go/v2"
)

const transformQuery = `
select ID, ST_X(shape) as X, ST_Y(shape) as Y from
(
	select ID, ST_Transform(ST_Point(X, Y), '{{.OriginCRS}}', '{{.TargetCRS}}') as shape
	from points
)
order by ID
`

// TransformPoints converts coordinate pairs between two CRS. The
// inputs must have equal length; outputs keep the input order.
func TransformPoints(ctx context.Context, xs, ys []float64, fromCRS, toCRS string) ([]float64, []float64, error) {
	if len(xs) != len(ys) {
		return nil, nil, fmt.Errorf("coordinate slices differ in length: %d vs %d", len(xs), len(ys))
	}
	if len(xs) == 0 {
		return nil, nil, fmt.Errorf("no coordinates to transform")
	}

	c, err := duckdb.NewConnector("", nil)
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	conn, err := c.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Close()

	ar, err := duckdb.NewArrowFromConn(conn)
	if err != nil {
		return nil, nil, err
	}

	db := sql.OpenDB(c)
	defer db.Close()
	if _, err := db.ExecContext(ctx, "INSTALL spatial; LOAD spatial;"); err != nil {
		return nil, nil, fmt.Errorf("failed to load spatial extension: %v", err)
	}

	rec := pointsRecord(xs, ys)
	defer rec.Release()

	rr, err := array.NewRecordReader(rec.Schema(), []arrow.RecordBatch{rec})
	if err != nil {
		return nil, nil, err
	}
	defer rr.Release()

	release, err := ar.RegisterView(rr, "points")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register points view: %v", err)
	}
	defer release()

	templ, err := template.New("queryTemplate").Parse(transformQuery)
	if err != nil {
		return nil, nil, err
	}
	var buf bytes.Buffer
	if err := templ.Execute(&buf, map[string]string{
		"OriginCRS": fromCRS,
		"TargetCRS": toCRS,
	}); err != nil {
		return nil, nil, err
	}

	outReader, err := ar.QueryContext(ctx, buf.String())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute transform query: %v", err)
	}
	defer outReader.Release()

	outX := make([]float64, 0, len(xs))
	outY := make([]float64, 0, len(ys))
	for outReader.Next() {
		out := outReader.RecordBatch()
		xIdx := out.Schema().FieldIndices("X")[0]
		yIdx := out.Schema().FieldIndices("Y")[0]
		xCol := out.Column(xIdx).(*array.Float64)
		yCol := out.Column(yIdx).(*array.Float64)
		for i := 0; i < xCol.Len(); i++ {
			outX = append(outX, xCol.Value(i))
			outY = append(outY, yCol.Value(i))
		}
	}
	if len(outX) != len(xs) {
		return nil, nil, fmt.Errorf("transform returned %d points, want %d", len(outX), len(xs))
	}
	return outX, outY, nil
}

func pointsRecord(xs, ys []float64) arrow.RecordBatch {
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: "ID", Type: arrow.PrimitiveTypes.Int64},
			{Name: "X", Type: arrow.PrimitiveTypes.Float64},
			{Name: "Y", Type: arrow.PrimitiveTypes.Float64},
		},
		nil,
	)

	idBuilder := array.NewInt64Builder(pool)
	xBuilder := array.NewFloat64Builder(pool)
	yBuilder := array.NewFloat64Builder(pool)
	defer idBuilder.Release()
	defer xBuilder.Release()
	defer yBuilder.Release()

	for i := range xs {
		idBuilder.Append(int64(i))
	}
	xBuilder.AppendValues(xs, nil)
	yBuilder.AppendValues(ys, nil)

	idArr := idBuilder.NewArray()
	xArr := xBuilder.NewArray()
	yArr := yBuilder.NewArray()

	return array.NewRecordBatch(
		schema,
		[]arrow.Array{idArr, xArr, yArr},
		int64(len(xs)),
	)
}
