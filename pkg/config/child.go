package config

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/hookio/pkg/types"
	"gopkg.in/yaml.v3"
)

// Child is one entry of the children list. A bare string names a child
// whose name and type are that string; a table gives a full spawn spec.
type Child struct {
	spec types.SpawnSpec
}

// NewChild wraps a spawn spec
func NewChild(spec types.SpawnSpec) Child {
	return Child{spec: spec}
}

// Spec returns the spawn spec, naming the child after its type when no
// name was given
func (c Child) Spec() types.SpawnSpec {
	spec := c.spec
	if spec.Name == "" {
		spec.Name = spec.Type
	}
	return spec
}

func (c *Child) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.spec = types.SpecFor(node.Value)
		return nil
	}
	return node.Decode(&c.spec)
}

func (c *Child) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		c.spec = types.SpecFor(name)
		return nil
	}
	return json.Unmarshal(data, &c.spec)
}

// UnmarshalTOML receives the decoded TOML value: a string or a table
func (c *Child) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		c.spec = types.SpecFor(val)
		return nil
	case map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &c.spec)
	default:
		return fmt.Errorf("child must be a string or a table, got %T", v)
	}
}

func (c Child) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.spec)
}
