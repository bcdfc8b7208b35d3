package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gridkit/pkg/geom"
)

func TestOpenGeoJSON(t *testing.T) {
	v, err := Open("testdata/polygons.geojson")
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, 2, v.Len())
	assert.Equal(t, geom.WGS84, v.CRS())

	features := v.Features()
	assert.Equal(t, "POLYGON ((0 0, 4 0, 4 4, 0 4, 0 0))", features[0].WKT)
	assert.Equal(t, "square", features[0].Properties["name"])
	assert.Equal(t, "POINT (10 20)", features[1].WKT)
}

func TestVectorBounds(t *testing.T) {
	v, err := Open("testdata/polygons.geojson")
	if err != nil {
		t.Fatal(err)
	}

	b, err := v.Bounds()
	assert.NoError(t, err)
	assert.Equal(t, geom.Bounds{XMin: 0, YMin: 0, XMax: 10, YMax: 20}, b)
}

func TestGet(t *testing.T) {
	v, err := Open("testdata/polygons.geojson")
	if err != nil {
		t.Fatal(err)
	}

	single, err := v.Get(1)
	assert.NoError(t, err)
	assert.Equal(t, 1, single.Len())
	assert.Equal(t, "POINT (10 20)", single.Features()[0].WKT)

	if _, err := v.Get(2); err == nil {
		t.Error("Expected error for out of range index, got nil")
	}
	if _, err := v.Get(-1); err == nil {
		t.Error("Expected error for negative index, got nil")
	}
}

func TestFromGeoJSONGeometryTypes(t *testing.T) {
	data := []byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "geometry": {"type": "MultiPoint", "coordinates": [[1, 2], [3, 4]]}, "properties": {}},
			{"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}, "properties": {}},
			{"type": "Feature", "geometry": {"type": "MultiPolygon", "coordinates": [[[[0, 0], [1, 0], [1, 1], [0, 0]]]]}, "properties": {}}
		]
	}`)

	v, err := FromGeoJSON(data, "EPSG:3857")
	if err != nil {
		t.Fatal(err)
	}

	features := v.Features()
	assert.Equal(t, "MULTIPOINT (1 2, 3 4)", features[0].WKT)
	assert.Equal(t, "LINESTRING (0 0, 1 1)", features[1].WKT)
	assert.Equal(t, "MULTIPOLYGON (((0 0, 1 0, 1 1, 0 0)))", features[2].WKT)
	assert.Equal(t, "EPSG:3857", v.CRS())
}

func TestFromGeoJSONValidation(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"type": `,
		"wrong type":         `{"type": "Feature"}`,
		"no features":        `{"type": "FeatureCollection", "features": []}`,
		"bad feature type":   `{"type": "FeatureCollection", "features": [{"type": "Point"}]}`,
		"unsupported geom":   `{"type": "FeatureCollection", "features": [{"type": "Feature", "geometry": {"type": "GeometryCollection", "coordinates": []}}]}`,
		"broken coordinates": `{"type": "FeatureCollection", "features": [{"type": "Feature", "geometry": {"type": "Point", "coordinates": "oops"}}]}`,
	}
	for name, data := range cases {
		if _, err := FromGeoJSON([]byte(data), geom.WGS84); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

func TestWKTBounds(t *testing.T) {
	b, err := wktBounds("POLYGON ((0 0, 4 0, 4 4, 0 4, 0 0))")
	assert.NoError(t, err)
	assert.Equal(t, geom.Bounds{XMin: 0, YMin: 0, XMax: 4, YMax: 4}, b)

	b, err = wktBounds("POINT (-3 7)")
	assert.NoError(t, err)
	assert.Equal(t, geom.Bounds{XMin: -3, YMin: 7, XMax: -3, YMax: 7}, b)

	if _, err := wktBounds("POLYGON EMPTY"); err == nil {
		t.Error("Expected error for empty WKT, got nil")
	}
}
