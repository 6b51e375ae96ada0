package run

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MilestoneKind selects the predicate used to detect a milestone. The
// dispatch table keyed by kind is built once when the catalog loads.
type MilestoneKind string

const (
	// MilestoneEnterRegion fires when any participant enters the region.
	MilestoneEnterRegion MilestoneKind = "enter_region"
	// MilestoneInsideStructure fires when any participant stands inside
	// the structure's generated bounds.
	MilestoneInsideStructure MilestoneKind = "inside_structure"
	// MilestoneBossDeath has no scan predicate; it completes through the
	// external boss-death signal only.
	MilestoneBossDeath MilestoneKind = "boss_death"
)

// Milestone declares one detectable split.
type Milestone struct {
	ID        string        `yaml:"id"`
	Kind      MilestoneKind `yaml:"kind"`
	Region    string        `yaml:"region,omitempty"`
	Structure string        `yaml:"structure,omitempty"`
	// Final marks the milestone whose completion wins the run.
	Final bool `yaml:"final,omitempty"`
}

type milestonePredicate func(entry RosterEntry, world WorldQuery) bool

// Catalog is the fixed, ordered set of milestones for a run. Evaluation order
// is declaration order, every tick.
type Catalog struct {
	entries    []Milestone
	predicates []milestonePredicate
	index      map[string]int
}

// DefaultCatalog mirrors the classic progression: two region entries, two
// structure discoveries, and the boss kill as the final milestone.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog([]Milestone{
		{ID: "nether", Kind: MilestoneEnterRegion, Region: "nether"},
		{ID: "bastion", Kind: MilestoneInsideStructure, Region: "nether", Structure: "bastion"},
		{ID: "fortress", Kind: MilestoneInsideStructure, Region: "nether", Structure: "fortress"},
		{ID: "end", Kind: MilestoneEnterRegion, Region: "end"},
		{ID: "dragon", Kind: MilestoneBossDeath, Final: true},
	})
	if err != nil {
		panic(fmt.Sprintf("default milestone catalog invalid: %v", err))
	}
	return catalog
}

// NewCatalog validates the declared milestones and compiles the predicate
// dispatch table.
func NewCatalog(entries []Milestone) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("milestone catalog is empty")
	}
	catalog := &Catalog{
		entries:    make([]Milestone, len(entries)),
		predicates: make([]milestonePredicate, len(entries)),
		index:      make(map[string]int, len(entries)),
	}
	finals := 0
	for i, entry := range entries {
		if entry.ID == "" {
			return nil, fmt.Errorf("milestone %d has no id", i)
		}
		if _, dup := catalog.index[entry.ID]; dup {
			return nil, fmt.Errorf("duplicate milestone id %q", entry.ID)
		}
		predicate, err := compilePredicate(entry)
		if err != nil {
			return nil, err
		}
		if entry.Final {
			finals++
		}
		catalog.entries[i] = entry
		catalog.predicates[i] = predicate
		catalog.index[entry.ID] = i
	}
	if finals != 1 {
		return nil, fmt.Errorf("catalog must declare exactly one final milestone, got %d", finals)
	}
	return catalog, nil
}

func compilePredicate(entry Milestone) (milestonePredicate, error) {
	switch entry.Kind {
	case MilestoneEnterRegion:
		if entry.Region == "" {
			return nil, fmt.Errorf("milestone %q: enter_region requires a region", entry.ID)
		}
		region := entry.Region
		return func(e RosterEntry, world WorldQuery) bool {
			return world.RegionOf(e.ID) == region
		}, nil
	case MilestoneInsideStructure:
		if entry.Structure == "" {
			return nil, fmt.Errorf("milestone %q: inside_structure requires a structure", entry.ID)
		}
		region := entry.Region
		structure := entry.Structure
		return func(e RosterEntry, world WorldQuery) bool {
			if region != "" && world.RegionOf(e.ID) != region {
				return false
			}
			return world.InsideStructure(e.ID, structure)
		}, nil
	case MilestoneBossDeath:
		// External trigger only.
		return nil, nil
	default:
		return nil, fmt.Errorf("milestone %q: unknown kind %q", entry.ID, entry.Kind)
	}
}

// LoadCatalog reads milestone declarations from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read milestone catalog: %w", err)
	}
	var file struct {
		Milestones []Milestone `yaml:"milestones"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse milestone catalog: %w", err)
	}
	catalog, err := NewCatalog(file.Milestones)
	if err != nil {
		return nil, fmt.Errorf("milestone catalog %s: %w", path, err)
	}
	return catalog, nil
}

// Entries returns the declared milestones in evaluation order.
func (c *Catalog) Entries() []Milestone {
	entries := make([]Milestone, len(c.entries))
	copy(entries, c.entries)
	return entries
}

// Lookup returns the milestone with the given id.
func (c *Catalog) Lookup(id string) (Milestone, bool) {
	i, ok := c.index[id]
	if !ok {
		return Milestone{}, false
	}
	return c.entries[i], true
}

// Final returns the winning milestone.
func (c *Catalog) Final() Milestone {
	for _, entry := range c.entries {
		if entry.Final {
			return entry
		}
	}
	return Milestone{}
}
