// Package zonecatalog loads the named ambient-context zones of an office map.
package zonecatalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Zone kinds.
const (
	KindMeeting = "meeting"
	KindSocial  = "social"
	KindFocus   = "focus"
)

// Zone is one named area of the office map.
type Zone struct {
	ID          string
	Name        string
	Description string
	Kind        string
	// Assistant marks zones whose prompts are meant for the completion provider.
	Assistant bool
}

type yamlCatalog struct {
	Zones []yamlZone `yaml:"zones"`
}

type yamlZone struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Kind        string `yaml:"kind"`
	Assistant   bool   `yaml:"assistant"`
}

// Catalog indexes zones by id. A Catalog is immutable once loaded.
type Catalog struct {
	zones map[string]Zone
}

// Empty returns a catalog with no zones.
func Empty() *Catalog {
	return &Catalog{zones: map[string]Zone{}}
}

// LoadFile reads and validates a zone catalog YAML file.
//
// Precondition: path must point to a readable YAML file.
// Postcondition: Returns a validated Catalog or a non-nil error.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading zone catalog %s: %w", path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates a zone catalog from YAML bytes.
func LoadBytes(data []byte) (*Catalog, error) {
	var file yamlCatalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing zone catalog YAML: %w", err)
	}

	c := Empty()
	var errs []error
	for i, z := range file.Zones {
		if z.ID == "" {
			errs = append(errs, fmt.Errorf("zone %d: id must not be empty", i))
			continue
		}
		if _, dup := c.zones[z.ID]; dup {
			errs = append(errs, fmt.Errorf("zone %q: duplicate id", z.ID))
			continue
		}
		switch z.Kind {
		case "":
			z.Kind = KindSocial
		case KindMeeting, KindSocial, KindFocus:
		default:
			errs = append(errs, fmt.Errorf("zone %q: unknown kind %q", z.ID, z.Kind))
			continue
		}
		name := z.Name
		if name == "" {
			name = z.ID
		}
		c.zones[z.ID] = Zone{
			ID:          z.ID,
			Name:        name,
			Description: z.Description,
			Kind:        z.Kind,
			Assistant:   z.Assistant,
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("validating zone catalog: %w", errors.Join(errs...))
	}
	return c, nil
}

// Lookup returns the zone with the given id.
func (c *Catalog) Lookup(id string) (Zone, bool) {
	z, ok := c.zones[id]
	return z, ok
}

// Zones returns all zones sorted by id.
func (c *Catalog) Zones() []Zone {
	out := make([]Zone, 0, len(c.zones))
	for _, z := range c.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of zones.
func (c *Catalog) Len() int {
	return len(c.zones)
}
