// Package notebook holds the in-memory notebook document model, the YAML
// loader that produces it, and the parameter injector that prepends a
// synthetic parameters cell before a run.
package notebook

import (
	"fmt"
	"os"

	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// Cell is one unit of executable source text. ID is caller-supplied and must
// be unique within the document. OrderKey is assigned by the coordinator at
// publish time, never by the caller.
type Cell struct {
	ID       string
	Source   string
	OrderKey string
}

// Document is a loaded notebook. It is immutable once loaded, except for the
// parameter injector prepending one synthetic cell before publishing.
type Document struct {
	Title       string
	Description string
	Cells       []*Cell
	Parameters  map[string]cty.Value
}

type yamlDoc struct {
	Metadata struct {
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
	} `yaml:"metadata"`
	Parameters map[string]any `yaml:"parameters"`
	Cells      []struct {
		ID     string `yaml:"id"`
		Source string `yaml:"source"`
	} `yaml:"cells"`
}

// Load reads a notebook document from a YAML file and validates it.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML notebook document.
func Parse(raw []byte) (*Document, error) {
	var yd yamlDoc
	if err := yaml.Unmarshal(raw, &yd); err != nil {
		return nil, fmt.Errorf("failed to parse notebook: %w", err)
	}

	doc := &Document{
		Title:       yd.Metadata.Title,
		Description: yd.Metadata.Description,
		Parameters:  make(map[string]cty.Value, len(yd.Parameters)),
	}
	for k, v := range yd.Parameters {
		val, err := toCtyValue(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		doc.Parameters[k] = val
	}

	seen := make(map[string]bool, len(yd.Cells))
	for i, c := range yd.Cells {
		if c.ID == "" {
			return nil, fmt.Errorf("cell at index %d has no id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate cell id %q", c.ID)
		}
		seen[c.ID] = true
		doc.Cells = append(doc.Cells, &Cell{ID: c.ID, Source: c.Source})
	}
	return doc, nil
}

// toCtyValue converts a decoded YAML value into a cty.Value. Collections map
// to tuples and objects so heterogeneous parameter values survive.
func toCtyValue(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case bool:
		return cty.BoolVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, 0, len(val))
		for _, e := range val {
			ev, err := toCtyValue(e)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, ev)
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, e := range val {
			ev, err := toCtyValue(e)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = ev
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported parameter value of type %T", v)
	}
}
