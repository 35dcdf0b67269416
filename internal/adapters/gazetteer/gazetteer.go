// Package gazetteer keeps the list of named places in memory and matches
// free-text locations against their localized names.
package gazetteer

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// File is the on-disk layout of a gazetteer seed.
type File struct {
	Places []domain.Place `yaml:"places"`
}

// LoadFile reads a YAML gazetteer seed.
func LoadFile(path string) ([]domain.Place, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse gazetteer: %w", err)
	}
	for i, p := range f.Places {
		if p.ID == "" || p.NameEN == "" {
			return nil, fmt.Errorf("gazetteer entry %d: id and name_en are required", i)
		}
		if !(domain.GeoPoint{Lat: p.Lat, Lon: p.Lng}).Valid() {
			return nil, fmt.Errorf("gazetteer entry %s: %w", p.ID, domain.ErrInvalidCoordinates)
		}
	}
	return f.Places, nil
}

// Memory is an immutable in-memory gazetteer. It is safe for concurrent use.
type Memory struct {
	places []domain.Place
	folded [][]string
	byID   map[string]int
}

// NewMemory indexes places in the order given; earlier places win ties.
func NewMemory(places []domain.Place) *Memory {
	m := &Memory{
		places: append([]domain.Place(nil), places...),
		folded: make([][]string, len(places)),
		byID:   make(map[string]int, len(places)),
	}
	for i, p := range m.places {
		for _, n := range p.Names() {
			// An empty name would be contained in every query.
			if f := Fold(n); f != "" {
				m.folded[i] = append(m.folded[i], f)
			}
		}
		m.byID[p.ID] = i
	}
	return m
}

// Fold normalizes a name for case-insensitive comparison across scripts.
func Fold(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// Match looks for an exact name match in any language first, then for a
// name contained in the query or containing it.
func (m *Memory) Match(name string) (*domain.Place, bool) {
	q := Fold(name)
	if q == "" {
		return nil, false
	}
	for i, names := range m.folded {
		for _, n := range names {
			if n == q {
				p := m.places[i]
				return &p, true
			}
		}
	}
	for i, names := range m.folded {
		for _, n := range names {
			if strings.Contains(q, n) || strings.Contains(n, q) {
				p := m.places[i]
				return &p, true
			}
		}
	}
	return nil, false
}

// Search returns up to limit places with a name containing query.
func (m *Memory) Search(query string, limit int) []domain.Place {
	q := Fold(query)
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}
	var out []domain.Place
	for i, names := range m.folded {
		for _, n := range names {
			if strings.Contains(n, q) {
				out = append(out, m.places[i])
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

// Get returns a place by id.
func (m *Memory) Get(id string) (*domain.Place, bool) {
	i, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	p := m.places[i]
	return &p, true
}

// Len returns the number of indexed places.
func (m *Memory) Len() int { return len(m.places) }

// List returns a copy of every place in index order.
func (m *Memory) List() []domain.Place {
	return append([]domain.Place(nil), m.places...)
}
