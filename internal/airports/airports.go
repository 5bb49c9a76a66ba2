// Package airports resolves positions to the nearest known airfield.
package airports

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/yegors/fleetwatch/internal/physics"
	"gopkg.in/yaml.v3"
)

//go:embed airports.yaml
var defaultTable []byte

// Unknown is recorded when no airport can be attributed
const Unknown = "UNKNOWN"

// Airport is one reference airfield
type Airport struct {
	ICAO string  `yaml:"icao" json:"icao"`
	Code string  `yaml:"code" json:"code"` // IATA when available, otherwise a short local code
	Name string  `yaml:"name" json:"name"`
	Lat  float64 `yaml:"lat" json:"lat"`
	Lon  float64 `yaml:"lon" json:"lon"`
}

// Match is the result of a nearest lookup
type Match struct {
	Code       string  `json:"code"`
	ICAO       string  `json:"icao"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distance_km"`
}

type tableFile struct {
	Airports []Airport `yaml:"airports"`
}

// Resolver answers nearest-airport queries against an immutable table
type Resolver struct {
	airports []Airport
}

// NewResolver wraps an airport table. The slice is copied.
func NewResolver(table []Airport) *Resolver {
	cp := make([]Airport, len(table))
	copy(cp, table)
	return &Resolver{airports: cp}
}

// Default returns a resolver over the embedded table
func Default() (*Resolver, error) {
	return parse(defaultTable)
}

// Load returns a resolver over a YAML table file, or the embedded table if path is empty
func Load(path string) (*Resolver, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read airports file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Resolver, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse airports table: %w", err)
	}
	if len(f.Airports) == 0 {
		return nil, fmt.Errorf("airports table is empty")
	}
	for i, a := range f.Airports {
		if a.Code == "" || a.Lat < -90 || a.Lat > 90 || a.Lon < -180 || a.Lon > 180 {
			return nil, fmt.Errorf("airports table entry %d (%s) is invalid", i, a.ICAO)
		}
	}
	return &Resolver{airports: f.Airports}, nil
}

// Len returns the table size
func (r *Resolver) Len() int {
	return len(r.airports)
}

// Nearest scans the whole table and returns the closest airport strictly within radiusKm.
// On equal distances the earlier table entry wins.
func (r *Resolver) Nearest(lat, lon, radiusKm float64) (Match, bool) {
	best := -1
	bestDist := 0.0
	for i, a := range r.airports {
		d := physics.HaversineKm(lat, lon, a.Lat, a.Lon)
		if best < 0 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 || bestDist >= radiusKm {
		return Match{}, false
	}

	a := r.airports[best]
	return Match{
		Code:       a.Code,
		ICAO:       a.ICAO,
		Name:       a.Name,
		DistanceKm: physics.RoundTo(bestDist, 1),
	}, true
}
