package jobconfig

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes Output manually so that Rename preserves the
// insertion order of the "rename" mapping in the YAML document — plain
// map[string]string decoding would lose that order, but spec invariants
// require rename patterns to be applied in the order they were written.
func (o *Output) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("output: expected a mapping, got %v", value.Kind)
	}

	type alias struct {
		Path   string      `yaml:"path"`
		Remove []string    `yaml:"remove"`
		Remote *Connection `yaml:"remote"`
	}
	var a alias
	if err := value.Decode(&a); err != nil {
		return err
	}
	o.Path = a.Path
	o.Remove = a.Remove
	o.Remote = a.Remote
	o.Rename = nil

	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		if keyNode.Value != "rename" {
			continue
		}
		valNode := value.Content[i+1]
		if valNode.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(valNode.Content); j += 2 {
				o.Rename = append(o.Rename, RenamePair{
					Old: valNode.Content[j].Value,
					New: valNode.Content[j+1].Value,
				})
			}
		}
	}

	return nil
}

// MarshalYAML reproduces Output as a mapping with rename written back out
// in its original insertion order, for the config_<id>.yaml dump.
func (o Output) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	addScalar := func(key string, val *yaml.Node) {
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, val)
	}

	var encode = func(v interface{}) *yaml.Node {
		n := &yaml.Node{}
		_ = n.Encode(v)
		return n
	}

	addScalar("path", encode(o.Path))
	addScalar("remove", encode(o.Remove))

	renameNode := &yaml.Node{Kind: yaml.MappingNode}
	for _, pair := range o.Rename {
		renameNode.Content = append(renameNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: pair.Old},
			&yaml.Node{Kind: yaml.ScalarNode, Value: pair.New},
		)
	}
	addScalar("rename", renameNode)
	addScalar("remote", encode(o.Remote))

	return node, nil
}
