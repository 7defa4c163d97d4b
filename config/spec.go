package config

import (
	"time"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/yaml.v3"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/spec"
)

/*
	SpecDir converts the manifest's YAML spec tree into a directory spec.

	The YAML form maps path-like keys to values:

	  - a plain string is literal file content;
	  - a mapping carrying a `$content` or `$ref` key is a file entry with
	    metadata (`mtime`, `atime`, `uid`, `gid` all optional);
	  - any other mapping is a nested directory.

	Defaulting of unset metadata happens here (construction time), per
	the entry constructors' contract.
*/
func (m *Manifest) SpecDir() (spec.Dir, error) {
	return convertDir(&m.Spec)
}

func convertDir(n *yaml.Node) (spec.Dir, error) {
	out := spec.Dir{}
	if n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null") {
		return out, nil
	}
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil, Errorf(veneer.ErrUsage, "invalid spec: line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		val, err := convertNode(n.Content[i+1])
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

func convertNode(n *yaml.Node) (spec.Node, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return spec.Content(n.Value), nil
	case yaml.MappingNode:
		if hasKey(n, "$content") || hasKey(n, "$ref") {
			return convertEntry(n)
		}
		return convertDir(n)
	default:
		return nil, Errorf(veneer.ErrUsage, "invalid spec: line %d: expected a string or a mapping", n.Line)
	}
}

func hasKey(n *yaml.Node, key string) bool {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}

func convertEntry(n *yaml.Node) (spec.Entry, error) {
	var raw struct {
		Content *string    `yaml:"$content"`
		Ref     *string    `yaml:"$ref"`
		Mtime   *time.Time `yaml:"mtime"`
		Atime   *time.Time `yaml:"atime"`
		Uid     *int       `yaml:"uid"`
		Gid     *int       `yaml:"gid"`
	}
	if err := n.Decode(&raw); err != nil {
		return nil, Errorf(veneer.ErrUsage, "invalid spec entry: line %d: %s", n.Line, err)
	}
	switch {
	case raw.Content != nil && raw.Ref != nil:
		return nil, Errorf(veneer.ErrUsage, "invalid spec entry: line %d: $content and $ref are mutually exclusive", n.Line)
	case raw.Content == nil && raw.Ref == nil:
		return nil, Errorf(veneer.ErrUsage, "invalid spec entry: line %d: $content or $ref must hold a value", n.Line)
	case raw.Ref != nil:
		return spec.NewRef(spec.PartialRef{
			Source: *raw.Ref,
			Mtime:  raw.Mtime,
			Atime:  raw.Atime,
			Uid:    raw.Uid,
			Gid:    raw.Gid,
		}), nil
	default:
		return spec.NewFile(spec.PartialFile{
			Body:  []byte(*raw.Content),
			Mtime: raw.Mtime,
			Atime: raw.Atime,
			Uid:   raw.Uid,
			Gid:   raw.Gid,
		}), nil
	}
}
