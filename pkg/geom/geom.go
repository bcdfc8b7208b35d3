package geom

import "strings"

// WGS84 geographic coordinates.
const WGS84 = "EPSG:4326"

// Web mercator, the usual tile-serving projection.
const WebMercator = "EPSG:3857"

// NormalizeCRS canonicalizes a CRS string. EPSG codes are upper-cased
// ("epsg:4326" -> "EPSG:4326"), WKT definitions pass through trimmed.
func NormalizeCRS(crs string) string {
	s := strings.TrimSpace(crs)
	if len(s) > 5 && strings.EqualFold(s[:5], "EPSG:") {
		return "EPSG:" + strings.TrimSpace(s[5:])
	}
	return s
}

// SameCRS reports whether two CRS strings refer to the same system after
// normalization. WKT bodies are compared verbatim.
func SameCRS(a, b string) bool {
	return NormalizeCRS(a) == NormalizeCRS(b)
}
