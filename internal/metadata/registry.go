package metadata

import (
	"fmt"
	"sort"
	"sync"

	"filterspec/internal/convert"
)

type Registry struct {
	mu                sync.RWMutex
	entities          map[string]*Entity
	relationsBySource map[string][]*Relation // keyed by source entity name
	relationsByName   map[string]*Relation   // keyed by relation name
	endpoints         map[string]*Endpoint   // keyed by endpoint name
}

func NewRegistry() *Registry {
	return &Registry{
		entities:          make(map[string]*Entity),
		relationsBySource: make(map[string][]*Relation),
		relationsByName:   make(map[string]*Relation),
		endpoints:         make(map[string]*Endpoint),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered entities.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	return entities
}

// GetRelation returns a relation by name, or nil.
func (r *Registry) GetRelation(name string) *Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsByName[name]
}

// GetRelationsForSource returns all relations where source matches the given entity.
func (r *Registry) GetRelationsForSource(entityName string) []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsBySource[entityName]
}

// Navigate resolves name, as seen from entityName, to a relation walked in
// the right direction. The name is a relation name or the entity at the
// other end.
func (r *Registry) Navigate(entityName, name string) (Navigation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rel := r.relationsByName[name]; rel != nil {
		if rel.Source == entityName {
			return Navigation{Relation: rel, From: rel.Source, To: rel.Target}, true
		}
		if rel.Target == entityName {
			return Navigation{Relation: rel, Reverse: true, From: rel.Target, To: rel.Source}, true
		}
	}
	// Fall back to the entity at the other end, in a stable order.
	names := make([]string, 0, len(r.relationsByName))
	for n := range r.relationsByName {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		rel := r.relationsByName[n]
		if rel.Source == entityName && rel.Target == name {
			return Navigation{Relation: rel, From: rel.Source, To: rel.Target}, true
		}
		if rel.Target == entityName && rel.Source == name {
			return Navigation{Relation: rel, Reverse: true, From: rel.Target, To: rel.Source}, true
		}
	}
	return Navigation{}, false
}

// AllRelations returns all registered relations.
func (r *Registry) AllRelations() []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	relations := make([]*Relation, 0, len(r.relationsByName))
	for _, rel := range r.relationsByName {
		relations = append(relations, rel)
	}
	return relations
}

// GetEndpoint returns an endpoint by name, or nil.
func (r *Registry) GetEndpoint(name string) *Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[name]
}

// AllEndpoints returns the endpoints sorted by name.
func (r *Registry) AllEndpoints() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoints := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })
	return endpoints
}

// Load replaces all entities and relations in the registry.
func (r *Registry) Load(entities []*Entity, relations []*Relation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*Entity, len(entities))
	for _, e := range entities {
		r.entities[e.Name] = e
	}

	r.relationsBySource = make(map[string][]*Relation)
	r.relationsByName = make(map[string]*Relation, len(relations))
	for _, rel := range relations {
		r.relationsByName[rel.Name] = rel
		r.relationsBySource[rel.Source] = append(r.relationsBySource[rel.Source], rel)
	}
}

// LoadEndpoints replaces all endpoints in the registry.
func (r *Registry) LoadEndpoints(endpoints []*Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = make(map[string]*Endpoint, len(endpoints))
	for _, ep := range endpoints {
		r.endpoints[ep.Name] = ep
	}
}

// AttributeType returns the filter type of an entity field.
func (r *Registry) AttributeType(entityName, attribute string) (convert.Type, error) {
	e := r.GetEntity(entityName)
	if e == nil {
		return convert.Type{}, fmt.Errorf("unknown entity %q", entityName)
	}
	if f := e.GetField(attribute); f != nil {
		return f.FilterType(), nil
	}
	if attribute == e.PrimaryKeyField() {
		return Field{Type: e.PrimaryKey.Type}.FilterType(), nil
	}
	return convert.Type{}, fmt.Errorf("unknown field %q on entity %q", attribute, entityName)
}

// RelationTarget returns the entity reached by walking relation from entityName.
func (r *Registry) RelationTarget(entityName, relation string) (string, error) {
	nav, ok := r.Navigate(entityName, relation)
	if !ok {
		return "", fmt.Errorf("entity %q has no relation %q", entityName, relation)
	}
	return nav.To, nil
}
