package savedobjects

import (
	"encoding/json"
	"maps"
)

// PrefixID namespaces id under prefix. Distinct ids stay distinct.
func PrefixID(prefix, id string) string {
	return prefix + "-" + id
}

// Rewrite returns a copy of g for a deployment named prefix. Every object id
// and every reference id is prefixed so the graph still resolves, dashboards
// are titled prefix, and index patterns match prefix-*. The metadata record
// is carried over unchanged.
func Rewrite(g *Graph, prefix string) *Graph {
	out := &Graph{
		Objects: make([]Object, 0, len(g.Objects)),
	}
	if g.Meta != nil {
		out.Meta = append(json.RawMessage(nil), g.Meta...)
	}

	for _, obj := range g.Objects {
		out.Objects = append(out.Objects, rewriteObject(obj, prefix))
	}
	return out
}

func rewriteObject(obj Object, prefix string) Object {
	o := Object{
		Type:       obj.Type,
		ID:         PrefixID(prefix, obj.ID),
		Attributes: maps.Clone(obj.Attributes),
		Extra:      maps.Clone(obj.Extra),
	}

	if obj.References != nil {
		o.References = make([]Reference, len(obj.References))
		for i, ref := range obj.References {
			ref.ID = PrefixID(prefix, ref.ID)
			o.References[i] = ref
		}
	}

	// Strings always marshal.
	switch o.Type {
	case TypeDashboard:
		_ = o.SetAttribute("title", prefix)
	case TypeIndexPattern:
		_ = o.SetAttribute("title", prefix+"-*")
		_ = o.SetAttribute("name", prefix)
	}
	return o
}
