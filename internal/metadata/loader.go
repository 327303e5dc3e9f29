package metadata

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// Definitions is the content of a definitions file.
type Definitions struct {
	Entities  []*Entity            `mapstructure:"entities"`
	Relations []*Relation          `mapstructure:"relations"`
	Endpoints []EndpointDefinition `mapstructure:"endpoints"`
}

// LoadFile reads entities, relations and endpoints from a YAML or JSON file
// and populates the registry.
func LoadFile(path string, reg *Registry) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read definitions %s: %w", path, err)
	}
	return load(v, reg)
}

// LoadReader is LoadFile for an already open document. format is a viper
// config type such as "yaml" or "json".
func LoadReader(r io.Reader, format string, reg *Registry) error {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return fmt.Errorf("read definitions: %w", err)
	}
	return load(v, reg)
}

func load(v *viper.Viper, reg *Registry) error {
	var defs Definitions
	if err := v.Unmarshal(&defs); err != nil {
		return fmt.Errorf("decode definitions: %w", err)
	}
	if err := defs.Validate(); err != nil {
		return err
	}

	endpoints := make([]*Endpoint, 0, len(defs.Endpoints))
	for _, d := range defs.Endpoints {
		ep, err := d.Endpoint()
		if err != nil {
			return err
		}
		endpoints = append(endpoints, ep)
	}

	reg.Load(defs.Entities, defs.Relations)
	reg.LoadEndpoints(endpoints)

	log.Printf("Loaded %d entities, %d relations, %d endpoints into registry",
		len(defs.Entities), len(defs.Relations), len(endpoints))
	return nil
}

// Validate checks that names are unique and that everything referenced exists.
func (d *Definitions) Validate() error {
	var errs *multierror.Error
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	entities := make(map[string]*Entity, len(d.Entities))
	for _, e := range d.Entities {
		switch {
		case e.Name == "":
			fail("entity without a name")
			continue
		case entities[e.Name] != nil:
			fail("entity %s is defined twice", e.Name)
		}
		if e.Table == "" {
			e.Table = e.Name
		}
		entities[e.Name] = e
	}

	relations := make(map[string]bool, len(d.Relations))
	for _, rel := range d.Relations {
		if rel.Name == "" {
			fail("relation %s -> %s without a name", rel.Source, rel.Target)
			continue
		}
		if relations[rel.Name] {
			fail("relation %s is defined twice", rel.Name)
		}
		relations[rel.Name] = true
		if entities[rel.Source] == nil {
			fail("relation %s: unknown source entity %s", rel.Name, rel.Source)
		}
		if entities[rel.Target] == nil {
			fail("relation %s: unknown target entity %s", rel.Name, rel.Target)
		}
		switch rel.Type {
		case "one_to_one", "one_to_many", "many_to_one":
			if rel.SourceKey == "" || rel.TargetKey == "" {
				fail("relation %s: source_key and target_key are required", rel.Name)
			}
		case "many_to_many":
			if rel.JoinTable == "" || rel.SourceJoinKey == "" || rel.TargetJoinKey == "" {
				fail("relation %s: join_table, source_join_key and target_join_key are required", rel.Name)
			}
		default:
			fail("relation %s: unknown type %q", rel.Name, rel.Type)
		}
	}

	endpoints := make(map[string]bool, len(d.Endpoints))
	for _, ep := range d.Endpoints {
		if ep.Name == "" {
			fail("endpoint on route %s without a name", ep.Route)
			continue
		}
		if endpoints[ep.Name] {
			fail("endpoint %s is defined twice", ep.Name)
		}
		endpoints[ep.Name] = true
		if !strings.HasPrefix(ep.Route, "/") {
			fail("endpoint %s: route %q must start with /", ep.Name, ep.Route)
		}
		if entities[ep.Entity] == nil {
			fail("endpoint %s: unknown entity %s", ep.Name, ep.Entity)
		}
	}
	return errs.ErrorOrNil()
}
