// Package document models the backup configuration payload: an ordered list
// of directories under a configurable key, with every other key of the YAML
// mapping carried through untouched.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	mapTag  = "!!map"
	seqTag  = "!!seq"
	strTag  = "!!str"
	nullTag = "!!null"
)

type Document struct {
	key  string
	dirs []string
	// root is the parsed top-level mapping. It is never modified; Encode
	// builds a new mapping that shares its child nodes.
	root *yaml.Node
	// orig is the original value node under key, kept for style, anchor
	// and comments. nil when the key was absent. It may be an alias.
	orig *yaml.Node
	// items maps an entry value to its original node so entries that were
	// already listed keep their tag and style.
	items map[string]*yaml.Node
	// comments attached to the document itself rather than to a key
	docHead, docFoot string
}

// Parse decodes a YAML payload. An empty payload, or a null document, is an
// empty mapping. The value under directoryKey must be a sequence of scalars
// or null.
func Parse(data []byte, directoryKey string) (*Document, error) {
	d := &Document{key: directoryKey, root: &yaml.Node{Kind: yaml.MappingNode, Tag: mapTag}}
	if len(bytes.TrimSpace(data)) == 0 {
		return d, nil
	}

	var n yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&n); errors.Is(err, io.EOF) {
		return d, nil
	} else if err != nil {
		return nil, err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, err
		}
		return nil, errors.New("expected a single document, found more")
	}
	if n.Kind != yaml.DocumentNode || len(n.Content) == 0 {
		return d, nil
	}
	d.docHead, d.docFoot = n.HeadComment, n.FootComment
	top := n.Content[0]
	switch {
	case top.Kind == yaml.MappingNode:
		d.root = top
	case isNull(top):
	default:
		return nil, fmt.Errorf("top level must be a mapping, got %s", describe(top))
	}

	val := d.lookup()
	if val == nil {
		return d, nil
	}
	dirs, items, err := decodeList(resolveAlias(val))
	if err != nil {
		return nil, fmt.Errorf("%q: %w", directoryKey, err)
	}
	d.orig = val
	d.dirs = dirs
	d.items = items
	return d, nil
}

// Key is the mapping key holding the directory list.
func (d *Document) Key() string { return d.key }

// Directories returns a copy of the directory list, empty when the key is
// absent or null.
func (d *Document) Directories() []string {
	return append([]string{}, d.dirs...)
}

// WithDirectories returns a shallow copy of d carrying its own directory
// list. Other keys are shared with d.
func (d *Document) WithDirectories(dirs []string) *Document {
	cp := *d
	cp.dirs = append([]string{}, dirs...)
	return &cp
}

// Encode serializes the whole mapping, with the directory key replaced in
// place or appended when it was absent.
func (d *Document) Encode() ([]byte, error) {
	root := *d.root
	root.Content = make([]*yaml.Node, 0, len(d.root.Content)+2)
	seq := d.sequence()
	replaced := false
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		k, v := d.root.Content[i], d.root.Content[i+1]
		if !replaced && isKey(k, d.key) {
			v = seq
			replaced = true
		}
		root.Content = append(root.Content, k, v)
	}
	if !replaced {
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: strTag, Value: d.key}, seq)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: d.docHead,
		FootComment: d.docFoot,
		Content:     []*yaml.Node{&root},
	}
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) lookup() *yaml.Node {
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		if isKey(d.root.Content[i], d.key) {
			return d.root.Content[i+1]
		}
	}
	return nil
}

func (d *Document) sequence() *yaml.Node {
	seq := &yaml.Node{}
	if d.orig != nil && d.orig.Kind == yaml.SequenceNode {
		*seq = *d.orig
	} else if d.orig != nil && d.orig.Kind != yaml.AliasNode {
		seq.HeadComment = d.orig.HeadComment
		seq.LineComment = d.orig.LineComment
		seq.FootComment = d.orig.FootComment
	}
	seq.Kind = yaml.SequenceNode
	seq.Tag = seqTag
	seq.Content = make([]*yaml.Node, 0, len(d.dirs))
	for _, p := range d.dirs {
		if item, ok := d.items[p]; ok {
			seq.Content = append(seq.Content, item)
			continue
		}
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: strTag, Value: p})
	}
	return seq
}

func decodeList(val *yaml.Node) ([]string, map[string]*yaml.Node, error) {
	if isNull(val) {
		return []string{}, nil, nil
	}
	if val.Kind != yaml.SequenceNode {
		return nil, nil, fmt.Errorf("expected a list, got %s", describe(val))
	}
	out := make([]string, 0, len(val.Content))
	items := make(map[string]*yaml.Node, len(val.Content))
	for i, raw := range val.Content {
		item := resolveAlias(raw)
		if item.Kind != yaml.ScalarNode || isNull(item) {
			return nil, nil, fmt.Errorf("entry %d: expected a path, got %s", i, describe(item))
		}
		out = append(out, item.Value)
		if _, ok := items[item.Value]; !ok {
			items[item.Value] = raw
		}
	}
	return out, items, nil
}

func isKey(n *yaml.Node, key string) bool {
	return n.Kind == yaml.ScalarNode && n.Value == key
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == nullTag
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func describe(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a list"
	case yaml.ScalarNode:
		return n.ShortTag() + " scalar"
	case yaml.AliasNode:
		return "an alias"
	}
	return "an unknown node"
}
