package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortql/cohortql/internal/query"
	"github.com/cohortql/cohortql/internal/schema"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Columns: map[string]schema.ColumnInfo{
			"Edad":        {Dtype: schema.DtypeInt64},
			"Peso":        {Dtype: schema.DtypeFloat64},
			"Descripcion": {Dtype: schema.DtypeObject},
			"Fecha":       {Dtype: schema.DtypeDatetime},
			"Activo":      {Dtype: schema.DtypeBool},
		},
	}
}

func TestValidateLeafOperatorTable(t *testing.T) {
	s := testSchema()

	tests := []struct {
		name  string
		field string
		op    query.Operator
		valid bool
	}{
		{"int greater_than", "Edad", query.OpGreaterThan, true},
		{"int between", "Edad", query.OpBetween, true},
		{"int in", "Edad", query.OpIn, true},
		{"int contains", "Edad", query.OpContains, false},
		{"float less_equal", "Peso", query.OpLessEqual, true},
		{"string equals", "Descripcion", query.OpEquals, true},
		{"string contains", "Descripcion", query.OpContains, true},
		{"string greater_than", "Descripcion", query.OpGreaterThan, false},
		{"string between", "Descripcion", query.OpBetween, false},
		{"datetime between", "Fecha", query.OpBetween, true},
		{"datetime in", "Fecha", query.OpIn, false},
		{"datetime is_null", "Fecha", query.OpIsNull, true},
		{"bool equals", "Activo", query.OpEquals, false},
		{"bool is_null", "Activo", query.OpIsNull, false},
		{"unknown field", "Missing", query.OpEquals, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaf := query.NewLeaf(tt.field, tt.op, 1)
			assert.Equal(t, tt.valid, query.Validate(leaf, s, nil))
		})
	}
}

func TestValidateCompound(t *testing.T) {
	s := testSchema()

	valid := query.NewLeaf("Edad", query.OpGreaterThan, 40)
	invalid := query.NewLeaf("Edad", query.OpContains, "x")

	t.Run("all children valid", func(t *testing.T) {
		c := query.NewCompound(query.OpOr, valid, query.NewLeaf("Descripcion", query.OpEquals, "Diabetes tipo 2"))
		assert.True(t, query.Validate(c, s, nil))
	})

	t.Run("one invalid child fails regardless of operator", func(t *testing.T) {
		assert.False(t, query.Validate(query.NewCompound(query.OpAnd, valid, invalid), s, nil))
		assert.False(t, query.Validate(query.NewCompound(query.OpOr, valid, invalid), s, nil))
	})

	t.Run("single child accepted", func(t *testing.T) {
		assert.True(t, query.Validate(query.NewCompound(query.OpAnd, valid), s, nil))
	})

	t.Run("empty criteria rejected", func(t *testing.T) {
		assert.False(t, query.Validate(query.NewCompound(query.OpAnd), s, nil))
	})

	t.Run("non-logical operator rejected", func(t *testing.T) {
		assert.False(t, query.Validate(query.NewCompound(query.OpEquals, valid), s, nil))
	})
}

func TestHumanReadable(t *testing.T) {
	tests := []struct {
		name     string
		expr     query.Expr
		expected string
	}{
		{
			"leaf equals",
			query.NewLeaf("Descripcion", query.OpEquals, "Diabetes tipo 2"),
			"Descripcion es igual a Diabetes tipo 2",
		},
		{
			"leaf numeric renders whole floats as ints",
			query.NewLeaf("Edad", query.OpGreaterThan, float64(40)),
			"Edad es mayor que 40",
		},
		{
			"leaf between",
			query.NewBetween("Edad", 30, 50),
			"Edad está entre [30, 50]",
		},
		{
			"leaf is_null",
			query.NewLeaf("Fecha", query.OpIsNull, nil),
			"Fecha es nulo",
		},
		{
			"compound and",
			query.NewCompound(query.OpAnd,
				query.NewLeaf("Edad", query.OpGreaterThan, 40),
				query.NewLeaf("Descripcion", query.OpEquals, "Asma"),
			),
			"(Edad es mayor que 40 Y Descripcion es igual a Asma)",
		},
		{
			"single-child compound unparenthesized",
			query.NewCompound(query.OpOr, query.NewLeaf("Edad", query.OpLessThan, 18)),
			"Edad es menor que 18",
		},
		{
			"nested",
			query.NewCompound(query.OpOr,
				query.NewCompound(query.OpAnd,
					query.NewLeaf("Edad", query.OpGreaterEqual, 65),
					query.NewLeaf("Descripcion", query.OpContains, "Diabetes"),
				),
				query.NewLeaf("Edad", query.OpLessThan, 5),
			),
			"((Edad es mayor o igual que 65 Y Descripcion contiene Diabetes) O Edad es menor que 5)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.expr.HumanReadable())
		})
	}
}

func TestFromMapRoundTrip(t *testing.T) {
	original := query.NewCompound(query.OpAnd,
		query.NewLeaf("Edad", query.OpGreaterThan, 40),
		query.NewCompound(query.OpOr,
			query.NewLeaf("Descripcion", query.OpEquals, "Diabetes tipo 2"),
			query.NewBetween("Peso", 60, 90),
		),
	)

	rebuilt, err := query.FromMap(original.ToMap())
	require.NoError(t, err)
	assert.Equal(t, original.HumanReadable(), rebuilt.HumanReadable())
	assert.Equal(t, query.Operations(original), query.Operations(rebuilt))
	assert.Equal(t, query.Fields(original), query.Fields(rebuilt))
}

func TestFromMapErrors(t *testing.T) {
	tests := []struct {
		name string
		m    map[string]any
	}{
		{"missing operation", map[string]any{"field": "Edad", "value": 1}},
		{"leaf missing field", map[string]any{"operation": "equals", "value": 1}},
		{"leaf missing value", map[string]any{"field": "Edad", "operation": "equals"}},
		{"between wrong arity", map[string]any{
			"field": "Edad", "operation": "between", "values": []any{1},
		}},
		{"empty criteria", map[string]any{"operation": "and", "criteria": []any{}}},
		{"criteria not objects", map[string]any{"operation": "or", "criteria": []any{"x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.FromMap(tt.m)
			assert.Error(t, err)
		})
	}
}

func TestFromMapNormalizesOperationCase(t *testing.T) {
	e, err := query.FromMap(map[string]any{
		"field": "Edad", "operation": " Greater_Than ", "value": 40,
	})
	require.NoError(t, err)
	leaf, ok := e.(*query.Leaf)
	require.True(t, ok)
	assert.Equal(t, query.OpGreaterThan, leaf.Op)
}

func TestFromMapDepthLimit(t *testing.T) {
	node := map[string]any{"field": "Edad", "operation": "equals", "value": 1}
	for i := 0; i < query.MaxDepth+1; i++ {
		node = map[string]any{"operation": "and", "criteria": []any{node}}
	}

	_, err := query.FromMap(node)
	assert.Error(t, err)
}

func TestFromResponseText(t *testing.T) {
	t.Run("json embedded in prose", func(t *testing.T) {
		text := `Here is the structured query you asked for:
{"intention_type": "cohort_filter", "query": {"field": "Edad", "operation": "greater_than", "value": 60}}
Let me know if you need anything else.`

		e, err := query.FromResponseText(text)
		require.NoError(t, err)
		assert.Equal(t, "Edad es mayor que 60", e.HumanReadable())
	})

	t.Run("missing query key", func(t *testing.T) {
		_, err := query.FromResponseText(`{"intention_type": "help"}`)
		assert.Error(t, err)
	})

	t.Run("no json object", func(t *testing.T) {
		_, err := query.FromResponseText("no structured content here")
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := query.FromResponseText(`{"query": {`)
		assert.Error(t, err)
	})
}

func TestValueListFallback(t *testing.T) {
	e, err := query.FromMap(map[string]any{
		"field": "Edad", "operation": "in", "value": []any{10, 20, 30},
	})
	require.NoError(t, err)
	leaf, ok := e.(*query.Leaf)
	require.True(t, ok)
	assert.Len(t, leaf.Values, 3)
}
