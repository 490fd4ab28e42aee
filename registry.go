package cubeengine

import "sync"

// CubeRegistry stores cube definitions, validates them at registration, and
// answers lookups by name. Implementations must be safe for concurrent
// lookups once registration has finished: the only global lock guards the
// one-time register step.
type CubeRegistry interface {
	// Register validates and adds a cube. Forward references in Joins are
	// allowed (lazy resolution): call Freeze once all cubes are registered
	// to resolve and validate every join target.
	Register(cube *Cube) error
	// Freeze resolves forward join references and rejects the registry
	// from further registration. Must be called once, after all cubes are
	// registered and before any query planning.
	Freeze() error
	// Lookup returns the named cube, or ok=false if it isn't registered.
	Lookup(name string) (*Cube, bool)
	// Metadata returns a descriptor for every registered cube, for
	// external consumers (ERD rendering, the AI query translator).
	Metadata() []CubeDescriptor
}

type cubeRegistry struct {
	mu       sync.RWMutex
	cubes    map[string]*Cube
	order    []string
	frozen   bool
}

// NewCubeRegistry returns an empty, unfrozen registry.
func NewCubeRegistry() CubeRegistry {
	return &cubeRegistry{cubes: make(map[string]*Cube)}
}

func (r *cubeRegistry) Register(cube *Cube) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return newCubeError(ErrRegistryDuplicateCube, "registry is frozen; cannot register further cubes")
	}
	if _, exists := r.cubes[cube.Name]; exists {
		return NewRegistryDuplicateCubeError(cube.Name)
	}

	seen := make(map[string]bool, len(cube.Dimensions)+len(cube.Measures))
	for name := range cube.Dimensions {
		if seen[name] {
			return NewRegistryDuplicateFieldError(cube.Name, name)
		}
		seen[name] = true
	}
	primaryKeyMeasures := 0
	for name, m := range cube.Measures {
		if seen[name] {
			return NewRegistryDuplicateFieldError(cube.Name, name)
		}
		seen[name] = true
		if m.Kind == "primaryKey" {
			primaryKeyMeasures++
		}
	}
	if primaryKeyMeasures > 1 {
		return newCubeError(ErrRegistryDuplicateField, "cube "+cube.Name+" declares more than one primaryKey measure")
	}

	r.cubes[cube.Name] = cube
	r.order = append(r.order, cube.Name)
	return nil
}

func (r *cubeRegistry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		cube := r.cubes[name]
		for _, j := range cube.Joins {
			if _, ok := r.cubes[j.TargetCube]; !ok {
				return NewRegistryUnresolvedJoinError(cube.Name, j.TargetCube)
			}
		}
	}
	r.frozen = true
	return nil
}

func (r *cubeRegistry) Lookup(name string) (*Cube, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cubes[name]
	return c, ok
}

func (r *cubeRegistry) Metadata() []CubeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]CubeDescriptor, 0, len(r.order))
	for _, name := range r.order {
		c := r.cubes[name]
		desc := CubeDescriptor{
			Name:        c.Name,
			Title:       c.Title,
			Description: c.Description,
			Questions:   c.Questions,
		}
		for _, d := range c.Dimensions {
			desc.Dimensions = append(desc.Dimensions, DimensionDescriptor{
				Name: d.Name, Title: d.Title, Description: d.Description,
				Type: d.Type, PrimaryKey: d.PrimaryKey,
			})
		}
		for _, m := range c.Measures {
			desc.Measures = append(desc.Measures, MeasureDescriptor{
				Name: m.Name, Title: m.Title, Description: m.Description,
				Format: m.Format, Kind: m.Kind,
			})
		}
		for _, h := range c.Hierarchies {
			desc.Hierarchies = append(desc.Hierarchies, *h)
		}
		for _, j := range c.Joins {
			desc.Relationships = append(desc.Relationships, JoinDescriptor{
				TargetCube: j.TargetCube, Relationship: j.Relationship,
			})
		}
		descs = append(descs, desc)
	}
	return descs
}
