// Package vector loads vector features for use against rasters. GeoJSON
// is parsed natively; every other format goes through the DuckDB
// spatial extension's ST_Read.
package vector

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gridkit/pkg/geom"
)

// Feature is a single vector feature: a WKT geometry plus properties.
type Feature struct {
	WKT        string
	Properties map[string]any
}

// Vector is an ordered feature collection with a shared CRS.
type Vector struct {
	features []Feature
	crs      string
}

// New wraps parsed features in a Vector.
func New(features []Feature, crs string) *Vector {
	return &Vector{features: features, crs: geom.NormalizeCRS(crs)}
}

// Len returns the feature count.
func (v *Vector) Len() int { return len(v.features) }

// Get returns a single-feature Vector, the way individual geometries
// are carved off a loaded layer for clipping.
func (v *Vector) Get(i int) (*Vector, error) {
	if i < 0 || i >= len(v.features) {
		return nil, fmt.Errorf("feature index %d out of range [0, %d)", i, len(v.features))
	}
	return &Vector{features: v.features[i : i+1], crs: v.crs}, nil
}

// Features returns the underlying features.
func (v *Vector) Features() []Feature { return v.features }

// CRS returns the collection's coordinate reference system.
func (v *Vector) CRS() string { return v.crs }

// Bounds returns the extent covering every feature.
func (v *Vector) Bounds() (geom.Bounds, error) {
	b := geom.Bounds{
		XMin: math.Inf(1), YMin: math.Inf(1),
		XMax: math.Inf(-1), YMax: math.Inf(-1),
	}
	any := false
	for _, f := range v.features {
		fb, err := wktBounds(f.WKT)
		if err != nil {
			return geom.Bounds{}, err
		}
		any = true
		b.XMin = math.Min(b.XMin, fb.XMin)
		b.YMin = math.Min(b.YMin, fb.YMin)
		b.XMax = math.Max(b.XMax, fb.XMax)
		b.YMax = math.Max(b.YMax, fb.YMax)
	}
	if !any {
		return geom.Bounds{}, fmt.Errorf("vector has no features")
	}
	return b, nil
}

// Open loads a vector file. GeoJSON parses natively; shapefiles,
// geopackages and the rest are read through ST_Read.
func Open(path string) (*Vector, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return FromGeoJSON(data, geom.WGS84)
	default:
		return openWithSpatial(path)
	}
}

type geoJSONFeature struct {
	Type     string `json:"type"`
	Geometry struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geoJSONCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

// FromGeoJSON parses a GeoJSON FeatureCollection. Point, MultiPoint,
// LineString, Polygon and MultiPolygon geometries are supported.
func FromGeoJSON(data []byte, crs string) (*Vector, error) {
	var fc geoJSONCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal geojson: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %s", fc.Type)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("no features in FeatureCollection")
	}

	features := make([]Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Type != "Feature" {
			return nil, fmt.Errorf("feature %d: expected Feature type, got %s", i, f.Type)
		}
		wkt, err := geometryToWKT(f.Geometry.Type, f.Geometry.Coordinates)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %v", i, err)
		}
		props := f.Properties
		if props == nil {
			props = map[string]any{}
		}
		features = append(features, Feature{WKT: wkt, Properties: props})
	}
	return New(features, crs), nil
}

func geometryToWKT(geomType string, coords json.RawMessage) (string, error) {
	switch geomType {
	case "Point":
		var p [2]float64
		if err := json.Unmarshal(coords, &p); err != nil {
			return "", fmt.Errorf("bad Point coordinates: %v", err)
		}
		return fmt.Sprintf("POINT (%g %g)", p[0], p[1]), nil
	case "MultiPoint":
		var pts [][2]float64
		if err := json.Unmarshal(coords, &pts); err != nil {
			return "", fmt.Errorf("bad MultiPoint coordinates: %v", err)
		}
		return "MULTIPOINT (" + joinCoords(pts) + ")", nil
	case "LineString":
		var pts [][2]float64
		if err := json.Unmarshal(coords, &pts); err != nil {
			return "", fmt.Errorf("bad LineString coordinates: %v", err)
		}
		return "LINESTRING (" + joinCoords(pts) + ")", nil
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(coords, &rings); err != nil {
			return "", fmt.Errorf("bad Polygon coordinates: %v", err)
		}
		return "POLYGON " + ringsWKT(rings), nil
	case "MultiPolygon":
		var polys [][][][2]float64
		if err := json.Unmarshal(coords, &polys); err != nil {
			return "", fmt.Errorf("bad MultiPolygon coordinates: %v", err)
		}
		parts := make([]string, len(polys))
		for i, rings := range polys {
			parts[i] = ringsWKT(rings)
		}
		return "MULTIPOLYGON (" + strings.Join(parts, ", ") + ")", nil
	}
	return "", fmt.Errorf("unsupported geometry type %s", geomType)
}

func joinCoords(pts [][2]float64) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = fmt.Sprintf("%g %g", p[0], p[1])
	}
	return strings.Join(parts, ", ")
}

func ringsWKT(rings [][][2]float64) string {
	parts := make([]string, len(rings))
	for i, ring := range rings {
		parts[i] = "(" + joinCoords(ring) + ")"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// wktBounds scans the numbers inside a WKT body for the extent. WKT
// keeps coordinates as "x y" pairs regardless of nesting, so a flat
// scan is enough.
func wktBounds(wkt string) (geom.Bounds, error) {
	clean := strings.NewReplacer("(", " ", ")", " ", ",", " ").Replace(wkt)
	fields := strings.Fields(clean)
	b := geom.Bounds{
		XMin: math.Inf(1), YMin: math.Inf(1),
		XMax: math.Inf(-1), YMax: math.Inf(-1),
	}
	n := 0
	expectX := true
	for _, f := range fields {
		var v float64
		if _, err := fmt.Sscanf(f, "%g", &v); err != nil {
			continue
		}
		if expectX {
			b.XMin = math.Min(b.XMin, v)
			b.XMax = math.Max(b.XMax, v)
		} else {
			b.YMin = math.Min(b.YMin, v)
			b.YMax = math.Max(b.YMax, v)
		}
		expectX = !expectX
		n++
	}
	if n < 2 {
		return geom.Bounds{}, fmt.Errorf("no coordinates in WKT %q", wkt)
	}
	return b, nil
}
