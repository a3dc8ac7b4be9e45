// Package catalog is the schema catalog: it supplies the relation
// descriptor (field list, key column index, data/index file paths, and
// the comparator for the key type) that the core needs but does not
// itself define. It is an explicit Engine value owning a name ->
// RelationInfo map, rather than a process-wide global registry.
package catalog

import (
	"fmt"
	"sync"

	"github.com/Junix-honor/B-Tree/typ"
)

// FieldInfo describes one field of a relation: its declared name, its
// 0-based position, its on-disk length (0 for variable-length string
// fields), and the type name resolved against a typ.Registry.
type FieldInfo struct {
	Name      string
	Index     int
	Length    int
	FieldType string
}

// RelationInfo is the relation descriptor consumed by the core: field
// descriptors, which field is the clustered key, where the data and
// index files live, and (once resolved) the comparator for the key
// column's type.
type RelationInfo struct {
	Name      string
	Fields    []FieldInfo
	KeyColumn int
	DataPath  string
	IndexPath string

	comparator typ.Comparator
}

// Validate checks the relation's structural constraints: a non-empty
// field list and a key column index within range.
func (r *RelationInfo) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("catalog: relation has no name")
	}
	if len(r.Fields) == 0 {
		return fmt.Errorf("catalog: relation %q has no fields", r.Name)
	}
	if r.KeyColumn < 0 || r.KeyColumn >= len(r.Fields) {
		return fmt.Errorf("catalog: relation %q key column %d out of range [0,%d)", r.Name, r.KeyColumn, len(r.Fields))
	}
	if r.DataPath == "" || r.IndexPath == "" {
		return fmt.Errorf("catalog: relation %q missing data/index path", r.Name)
	}
	for i, f := range r.Fields {
		if f.Index != i {
			return fmt.Errorf("catalog: relation %q field %d has out-of-order index %d", r.Name, i, f.Index)
		}
		if f.FieldType == "" {
			return fmt.Errorf("catalog: relation %q field %q has no type", r.Name, f.Name)
		}
	}
	return nil
}

// KeyField returns the field descriptor for the clustered key column.
func (r *RelationInfo) KeyField() FieldInfo { return r.Fields[r.KeyColumn] }

// Comparator returns the resolved comparator for the key column. Set by
// Engine.CreateTable; nil until then.
func (r *RelationInfo) Comparator() typ.Comparator { return r.comparator }

// Engine owns the name -> RelationInfo registry for one process.
// Several independent Engines may coexist within the same process.
type Engine struct {
	mu        sync.RWMutex
	registry  *typ.Registry
	relations map[string]*RelationInfo
}

// NewEngine returns an Engine backed by the built-in type registry.
func NewEngine() *Engine {
	return &Engine{registry: typ.NewRegistry(), relations: make(map[string]*RelationInfo)}
}

// Init is a no-op provided for API symmetry with Destroy; NewEngine
// already performs all the setup an Engine needs.
func (e *Engine) Init() {}

// Destroy drops every registered relation, for symmetry with Init.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.relations = make(map[string]*RelationInfo)
}

// Registry exposes the engine's type registry so callers can register
// custom scalar types before creating tables that use them.
func (e *Engine) Registry() *typ.Registry { return e.registry }

// CreateTable validates info, resolves its key column's comparator
// against the engine's type registry, and registers it under info.Name.
func (e *Engine) CreateTable(info *RelationInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	cmp, err := e.registry.Lookup(info.KeyField().FieldType)
	if err != nil {
		return fmt.Errorf("catalog: relation %q: %w", info.Name, err)
	}
	info.comparator = cmp

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.relations[info.Name]; exists {
		return fmt.Errorf("catalog: relation %q already exists", info.Name)
	}
	e.relations[info.Name] = info
	return nil
}

// Open returns the registered relation descriptor for name.
func (e *Engine) Open(name string) (*RelationInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info, ok := e.relations[name]
	if !ok {
		return nil, fmt.Errorf("catalog: relation %q not found", name)
	}
	return info, nil
}

// Close is a no-op hook for API symmetry with Open; the catalog itself
// owns no per-table file handles.
func (e *Engine) Close(name string) error {
	if _, err := e.Open(name); err != nil {
		return err
	}
	return nil
}

// Drop removes name from the registry.
func (e *Engine) Drop(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.relations[name]; !ok {
		return fmt.Errorf("catalog: relation %q not found", name)
	}
	delete(e.relations, name)
	return nil
}
