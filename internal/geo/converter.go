package geo

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/pebbe/proj/v5"

	"github.com/rpattn/dataforge/internal/domain"
)

// Coordinate is a geographic position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Converter turns a projected easting/northing into geographic coordinates.
type Converter interface {
	ToGeographic(easting, northing float64, definition string) (Coordinate, error)
}

// ProjConverter is a Converter backed by the PROJ library. A PROJ context is
// not safe for concurrent use, so every call holds the converter's lock.
type ProjConverter struct {
	mu     sync.Mutex
	ctx    *proj.Context
	cached map[string]*proj.PJ
	closed bool
}

// NewProjConverter allocates a PROJ context. Close releases it.
func NewProjConverter() *ProjConverter {
	return &ProjConverter{
		ctx:    proj.NewContext(),
		cached: make(map[string]*proj.PJ),
	}
}

// Close frees every cached transformation and the context.
func (c *ProjConverter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for def, pj := range c.cached {
		pj.Close()
		delete(c.cached, def)
	}
	c.ctx.Close()
	c.closed = true
}

// ToGeographic runs the inverse of the projection described by definition.
func (c *ProjConverter) ToGeographic(easting, northing float64, definition string) (coord Coordinate, err error) {
	if !finite(easting) || !finite(northing) {
		return Coordinate{}, fmt.Errorf("easting/northing must be finite numbers")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Coordinate{}, errors.New("converter is closed")
	}

	// The C bindings should not panic, but nothing may escape this boundary.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("projection failed: %v", r)
		}
	}()

	pj, err := c.transformation(definition)
	if err != nil {
		return Coordinate{}, err
	}

	lon, lat, _, _, err := pj.Trans(proj.Inv, easting, northing, 0, 0)
	if err != nil {
		return Coordinate{}, fmt.Errorf("inverse projection: %w", err)
	}

	coord = Coordinate{Latitude: proj.RadToDeg(lat), Longitude: proj.RadToDeg(lon)}
	if !finite(coord.Latitude) || !finite(coord.Longitude) ||
		!AxisLatitude.InRange(coord.Latitude) || !AxisLongitude.InRange(coord.Longitude) {
		return Coordinate{}, fmt.Errorf("projection produced an invalid position (%v, %v)", coord.Latitude, coord.Longitude)
	}
	return coord, nil
}

func (c *ProjConverter) transformation(definition string) (*proj.PJ, error) {
	if pj, ok := c.cached[definition]; ok {
		return pj, nil
	}
	pj, err := c.ctx.Create(definition)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProjection, err)
	}
	c.cached[definition] = pj
	return pj, nil
}

// Convert resolves spec against table and converts the pair. The returned
// label names the projection that was used.
func Convert(conv Converter, table ProjectionTable, easting, northing float64, spec domain.ProjectionSpec) (Coordinate, string, error) {
	definition, err := table.ResolveDefinition(spec)
	if err != nil {
		return Coordinate{}, "", err
	}
	coord, err := conv.ToGeographic(easting, northing, definition)
	if err != nil {
		return Coordinate{}, "", err
	}
	return coord, spec.Label(), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
