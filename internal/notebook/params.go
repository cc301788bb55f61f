package notebook

import (
	"sort"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// ParametersCellID is the fixed id of the synthetic cell the injector
// prepends when any parameters are present.
const ParametersCellID = "parameters"

// InjectParameters merges the three parameter sources with override
// precedence callTime > configured > document, and prepends one synthetic
// cell rendering each pair as an assignment statement. It is a no-op when the
// merged map is empty. Cells already present in the document are not touched.
func InjectParameters(doc *Document, configured, callTime map[string]cty.Value) {
	merged := make(map[string]cty.Value, len(doc.Parameters)+len(configured)+len(callTime))
	for k, v := range doc.Parameters {
		merged[k] = v
	}
	for k, v := range configured {
		merged[k] = v
	}
	for k, v := range callTime {
		merged[k] = v
	}
	if len(merged) == 0 {
		return
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(" = ")
		b.WriteString(PythonLiteral(merged[k]))
		b.WriteString("\n")
	}

	cell := &Cell{ID: ParametersCellID, Source: b.String()}
	doc.Cells = append([]*Cell{cell}, doc.Cells...)
}

// PythonLiteral renders a parameter value using the target language's literal
// syntax: numbers and booleans as bare literals, strings quoted, null as
// None, and collections as a structured-literal fallback.
func PythonLiteral(v cty.Value) string {
	if v.IsNull() {
		return "None"
	}
	ty := v.Type()
	switch {
	case ty == cty.Bool:
		if v.True() {
			return "True"
		}
		return "False"
	case ty == cty.Number:
		return v.AsBigFloat().Text('f', -1)
	case ty == cty.String:
		return strconv.Quote(v.AsString())
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		var parts []string
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			parts = append(parts, PythonLiteral(ev))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ty.IsObjectType() || ty.IsMapType():
		attrs := v.AsValueMap()
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, strconv.Quote(k)+": "+PythonLiteral(attrs[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		// Last-resort fallback for exotic values.
		return strconv.Quote(v.GoString())
	}
}
