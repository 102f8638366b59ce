package jobconfig

import "gopkg.in/yaml.v3"

// mergeNodes deep-merges src into a clone of dst and returns the result.
// Both must be (or be nil/null, treated as empty mappings). A key present
// in both that is itself a mapping is merged recursively; otherwise src's
// value overwrites dst's. Keys already in dst keep their position; keys
// only in src are appended at the end. This mirrors the insertion-order
// preserving deep-merge the original Python tool performed with
// jsonextended.edict.merge(overwrite=True), but implemented directly over
// yaml.v3's Node tree so ordering falls out naturally instead of needing a
// separate ordered-map type for every merged field.
func mergeNodes(dst, src *yaml.Node) *yaml.Node {
	if src == nil || src.Kind == yaml.DocumentNode && len(src.Content) == 0 {
		return cloneNode(dst)
	}
	if dst == nil || isNull(dst) {
		return cloneNode(src)
	}
	if isNull(src) {
		return cloneNode(dst)
	}
	if dst.Kind != yaml.MappingNode || src.Kind != yaml.MappingNode {
		return cloneNode(src)
	}

	out := cloneNode(dst)

	for i := 0; i+1 < len(src.Content); i += 2 {
		key := src.Content[i]
		val := src.Content[i+1]

		idx := findKey(out, key.Value)
		if idx == -1 {
			out.Content = append(out.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key.Value},
				cloneNode(val),
			)
			continue
		}

		existingVal := out.Content[idx+1]
		out.Content[idx+1] = mergeNodes(existingVal, val)
	}

	return out
}

func findKey(mapping *yaml.Node, key string) int {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func isNull(n *yaml.Node) bool {
	return n == nil || n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"}
	}
	clone := *n
	clone.Content = nil
	for _, c := range n.Content {
		clone.Content = append(clone.Content, cloneNode(c))
	}
	return &clone
}
