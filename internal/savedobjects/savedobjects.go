// Package savedobjects reads and writes OpenSearch Dashboards saved-object
// exports: NDJSON lines of objects followed by one export metadata record.
package savedobjects

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Object types the rewriter treats specially.
const (
	TypeDashboard    = "dashboard"
	TypeIndexPattern = "index-pattern"
)

// ErrMalformed is matched by every decode failure.
var ErrMalformed = errors.New("malformed saved-object export")

// Reference points from one object to another.
type Reference struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Object is one saved object. Top-level keys other than type, id, attributes
// and references round-trip through Extra untouched.
type Object struct {
	Type       string
	ID         string
	Attributes map[string]json.RawMessage
	References []Reference
	Extra      map[string]json.RawMessage
}

// Metadata is the trailing export record.
type Metadata struct {
	ExportedCount     int             `json:"exportedCount"`
	MissingRefCount   int             `json:"missingRefCount"`
	MissingReferences json.RawMessage `json:"missingReferences"`
}

// Graph is an ordered export. Meta holds the metadata line verbatim, or nil
// when the export had none.
type Graph struct {
	Objects []Object
	Meta    json.RawMessage
}

func (o *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if err := decodeKey(raw, "type", &o.Type); err != nil {
		return err
	}
	if err := decodeKey(raw, "id", &o.ID); err != nil {
		return err
	}
	o.Attributes = nil
	if err := decodeKey(raw, "attributes", &o.Attributes); err != nil {
		return err
	}
	o.References = nil
	if err := decodeKey(raw, "references", &o.References); err != nil {
		return err
	}

	o.Extra = nil
	for k, v := range raw {
		if o.Extra == nil {
			o.Extra = make(map[string]json.RawMessage, len(raw))
		}
		o.Extra[k] = v
	}
	return nil
}

func decodeKey(raw map[string]json.RawMessage, key string, dst any) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	delete(raw, key)
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	return nil
}

func (o Object) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o.Extra)+4)
	for k, v := range o.Extra {
		out[k] = v
	}
	out["type"] = o.Type
	out["id"] = o.ID
	if o.Attributes != nil {
		out["attributes"] = o.Attributes
	}
	if o.References != nil {
		out["references"] = o.References
	}
	return json.Marshal(out)
}

// SetAttribute stores v under key, creating the attribute map if needed.
func (o *Object) SetAttribute(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if o.Attributes == nil {
		o.Attributes = make(map[string]json.RawMessage)
	}
	o.Attributes[key] = data
	return nil
}

// StringAttribute returns a string attribute, or "" if absent or not a string.
func (o *Object) StringAttribute(key string) string {
	var s string
	if raw, ok := o.Attributes[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// isMetadata reports whether a line is the export metadata record.
func isMetadata(raw map[string]json.RawMessage) bool {
	_, hasCount := raw["exportedCount"]
	_, hasType := raw["type"]
	return hasCount && !hasType
}

// Decode reads an export. Blank lines are ignored. A metadata record
// anywhere but last is an error.
func Decode(r io.Reader) (*Graph, error) {
	g := &Graph{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)

	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if g.Meta != nil {
			return nil, fmt.Errorf("%w: line %d follows the export metadata", ErrMalformed, lineNum)
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNum, err)
		}
		if isMetadata(raw) {
			g.Meta = append(json.RawMessage(nil), line...)
			continue
		}

		var obj Object
		if err := json.Unmarshal(line, &obj); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNum, err)
		}
		if obj.Type == "" || obj.ID == "" {
			return nil, fmt.Errorf("%w: line %d: object without type or id", ErrMalformed, lineNum)
		}
		g.Objects = append(g.Objects, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return g, nil
}

// Encode writes g as NDJSON with the metadata record last.
func Encode(w io.Writer, g *Graph) error {
	bw := bufio.NewWriter(w)
	for _, obj := range g.Objects {
		data, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", obj.Type, obj.ID, err)
		}
		bw.Write(data)
		bw.WriteByte('\n')
	}
	if g.Meta != nil {
		bw.Write(g.Meta)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Bytes encodes g into memory.
func (g *Graph) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Metadata decodes the trailing record, if any.
func (g *Graph) Metadata() (*Metadata, error) {
	if g.Meta == nil {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal(g.Meta, &m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}
	return &m, nil
}

// Dangling returns the references that point at objects not in g.
func (g *Graph) Dangling() []Reference {
	type key struct{ typ, id string }
	present := make(map[key]struct{}, len(g.Objects))
	for _, obj := range g.Objects {
		present[key{obj.Type, obj.ID}] = struct{}{}
	}

	var out []Reference
	for _, obj := range g.Objects {
		for _, ref := range obj.References {
			if _, ok := present[key{ref.Type, ref.ID}]; !ok {
				out = append(out, ref)
			}
		}
	}
	return out
}
