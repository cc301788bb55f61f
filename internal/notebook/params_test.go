package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestInjectParametersPrecedence(t *testing.T) {
	doc := &Document{
		Cells: []*Cell{{ID: "compute", Source: "result = a + b"}},
		Parameters: map[string]cty.Value{
			"a": cty.NumberIntVal(1),
			"b": cty.NumberIntVal(2),
		},
	}
	configured := map[string]cty.Value{
		"b": cty.NumberIntVal(3),
		"c": cty.NumberIntVal(4),
	}
	callTime := map[string]cty.Value{
		"c": cty.NumberIntVal(5),
	}

	InjectParameters(doc, configured, callTime)

	require.Len(t, doc.Cells, 2)
	require.Equal(t, ParametersCellID, doc.Cells[0].ID)
	assert.Equal(t, "a = 1\nb = 3\nc = 5\n", doc.Cells[0].Source)

	// Existing cells are untouched.
	assert.Equal(t, "compute", doc.Cells[1].ID)
	assert.Equal(t, "result = a + b", doc.Cells[1].Source)
}

func TestInjectParametersEmptyIsNoOp(t *testing.T) {
	doc := &Document{Cells: []*Cell{{ID: "only"}}}

	InjectParameters(doc, nil, nil)

	require.Len(t, doc.Cells, 1)
	assert.Equal(t, "only", doc.Cells[0].ID)
}

func TestPythonLiteral(t *testing.T) {
	tests := []struct {
		name string
		val  cty.Value
		want string
	}{
		{"int", cty.NumberIntVal(42), "42"},
		{"float", cty.NumberFloatVal(2.5), "2.5"},
		{"bool true", cty.True, "True"},
		{"bool false", cty.False, "False"},
		{"string", cty.StringVal("hello"), `"hello"`},
		{"string with quotes", cty.StringVal(`say "hi"`), `"say \"hi\""`},
		{"null", cty.NullVal(cty.DynamicPseudoType), "None"},
		{"list", cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.StringVal("x")}), `[1, "x"]`},
		{"object", cty.ObjectVal(map[string]cty.Value{
			"b": cty.NumberIntVal(2),
			"a": cty.True,
		}), `{"a": True, "b": 2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PythonLiteral(tt.val))
		})
	}
}
