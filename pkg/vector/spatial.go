package vector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/duckdb/duckdb-go/v2"

	"gridkit/pkg/geom"
)

// openWithSpatial reads any GDAL supported vector format through the
// DuckDB spatial extension and converts geometries to WKT.
func openWithSpatial(path string) (*Vector, error) {
	c, err := duckdb.NewConnector("", nil)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	db := sql.OpenDB(c)
	defer db.Close()

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "INSTALL spatial; LOAD spatial;"); err != nil {
		return nil, fmt.Errorf("failed to load spatial extension: %v", err)
	}

	query := fmt.Sprintf(`SELECT * EXCLUDE (geom), ST_AsText(geom) AS wkt FROM ST_Read('%s')`, path)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s with ST_Read: %v", path, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var features []Feature
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %v", err)
		}
		f := Feature{Properties: map[string]any{}}
		for i, name := range cols {
			if name == "wkt" {
				switch w := vals[i].(type) {
				case string:
					f.WKT = w
				case []byte:
					f.WKT = string(w)
				}
				continue
			}
			f.Properties[name] = vals[i]
		}
		if f.WKT == "" {
			return nil, fmt.Errorf("feature without geometry in %s", path)
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("no features in %s", path)
	}

	// ST_Read does not report layer CRS through SQL; callers reading
	// projected data should set it explicitly via New.
	return New(features, geom.WGS84), nil
}
