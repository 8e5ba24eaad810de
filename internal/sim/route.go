// Package sim drives simulated clients from YAML route files.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/geo"
)

// Point is one waypoint of a route.
type Point struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Route is a courier path. Steps interpolated positions are emitted between
// consecutive points; Loop restarts from the first point at the end.
type Route struct {
	CourierID string        `yaml:"courier_id"`
	Interval  time.Duration `yaml:"interval"`
	Steps     int           `yaml:"steps"`
	Loop      bool          `yaml:"loop"`
	Points    []Point       `yaml:"points"`
}

// LoadRoute reads and validates a route file.
func LoadRoute(path string) (*Route, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route: %w", err)
	}
	return ParseRoute(b)
}

// ParseRoute decodes a YAML route.
func ParseRoute(b []byte) (*Route, error) {
	var r Route
	if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode route: %v: %w", err, apperr.ErrInvalid)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Route) validate() error {
	if len(r.Points) == 0 {
		return fmt.Errorf("route has no points: %w", apperr.ErrInvalid)
	}
	for i, p := range r.Points {
		if !geo.ValidCoordinates(p.Lat, p.Lon) {
			return fmt.Errorf("point %d (%v, %v): %w", i, p.Lat, p.Lon, apperr.ErrInvalid)
		}
	}
	if r.Steps < 0 {
		return fmt.Errorf("negative steps: %w", apperr.ErrInvalid)
	}
	if r.Interval < 0 {
		return fmt.Errorf("negative interval: %w", apperr.ErrInvalid)
	}
	return nil
}

// Path expands the waypoints with the interpolated steps.
func (r *Route) Path() []Point {
	if len(r.Points) == 1 {
		return []Point{r.Points[0]}
	}
	out := make([]Point, 0, len(r.Points)+(len(r.Points)-1)*r.Steps)
	for i := 0; i < len(r.Points)-1; i++ {
		a, b := r.Points[i], r.Points[i+1]
		out = append(out, a)
		for s := 1; s <= r.Steps; s++ {
			f := float64(s) / float64(r.Steps+1)
			out = append(out, Point{Lat: a.Lat + (b.Lat-a.Lat)*f, Lon: a.Lon + (b.Lon-a.Lon)*f})
		}
	}
	return append(out, r.Points[len(r.Points)-1])
}

// Source walks the path once per call to Next. It returns io.EOF after the
// last point unless the route loops.
type Source struct {
	mu   sync.Mutex
	path []Point
	next int
	loop bool
	now  func() time.Time
}

// NewSource returns a position source over r. A nil now uses wall time.
func NewSource(r *Route, now func() time.Time) *Source {
	if now == nil {
		now = time.Now
	}
	return &Source{path: r.Path(), loop: r.Loop, now: now}
}

// ErrRouteDone marks the end of a non-looping route.
var ErrRouteDone = io.EOF

// Next returns the next position stamped with the current time.
func (s *Source) Next(ctx context.Context) (domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return domain.Position{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.path) {
		if !s.loop {
			return domain.Position{}, ErrRouteDone
		}
		s.next = 0
	}
	p := s.path[s.next]
	s.next++
	return domain.Position{Lat: p.Lat, Lon: p.Lon, Timestamp: s.now().UnixMilli()}, nil
}

// IsDone reports whether err marks the end of the route.
func IsDone(err error) bool { return errors.Is(err, ErrRouteDone) }
