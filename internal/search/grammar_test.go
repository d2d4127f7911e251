package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{
		"type":  {Name: "type", Column: "product_type", Type: FieldString},
		"price": {Name: "price", Column: "monthly_price", Type: FieldNumeric},
		"cores": {Name: "cores", Column: "processor_cores", Type: FieldNumeric, Integer: true},
		"stock": {Name: "stock", Column: "stock_status", Type: FieldString},
		"name":  {Name: "name", Column: "offering_name", Type: FieldTextLike},
		"gpu":   {Name: "gpu", Column: "has_gpu", Type: FieldBool},
	}
}

func TestCompile_ConcreteScenario(t *testing.T) {
	got, err := Compile(testSchema(), "type:(gpu OR compute) price:[50 TO 500] cores:>=8 !stock:out_of_stock")
	require.NoError(t, err)

	want := "(product_type = ? OR product_type = ?) AND (monthly_price >= ? AND monthly_price <= ?) AND processor_cores >= ? AND stock_status != ?"
	require.Equal(t, want, got.SQL)
	require.Equal(t, []any{"gpu", "compute", 50.0, 500.0, int64(8), "out_of_stock"}, got.Values)
}

func TestCompile_UnknownFieldFails(t *testing.T) {
	_, err := Compile(testSchema(), "bogus:value")
	var unknown *ErrUnknownField
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "bogus", unknown.Field)
}

func TestCompile_EmptyFilterFails(t *testing.T) {
	_, err := Compile(testSchema(), "   ")
	require.ErrorIs(t, err, ErrEmptyFilter)
}

func TestCompile_BoolField(t *testing.T) {
	got, err := Compile(testSchema(), "gpu:true")
	require.NoError(t, err)
	require.Equal(t, "has_gpu = ?", got.SQL)
	require.Equal(t, []any{true}, got.Values)
}

func TestCompile_BoolFieldRejectsNonBool(t *testing.T) {
	_, err := Compile(testSchema(), "gpu:maybe")
	require.ErrorIs(t, err, ErrBadBoolValue)
}

func TestCompile_TextLikeFieldCompilesToLike(t *testing.T) {
	got, err := Compile(testSchema(), "name:gpu-box")
	require.NoError(t, err)
	require.Equal(t, "offering_name LIKE ?", got.SQL)
	require.Equal(t, []any{"%gpu-box%"}, got.Values)
}

func TestCompile_NegatedTextLikeCompilesToNotLike(t *testing.T) {
	got, err := Compile(testSchema(), "!name:gpu-box")
	require.NoError(t, err)
	require.Equal(t, "offering_name NOT LIKE ?", got.SQL)
}

func TestCompile_QuotedValueStripsQuotes(t *testing.T) {
	got, err := Compile(testSchema(), `stock:"out of stock"`)
	require.NoError(t, err)
	require.Equal(t, []any{"out of stock"}, got.Values)
}

func TestCompile_OnePlaceholderPerValue(t *testing.T) {
	got, err := Compile(testSchema(), "type:(gpu OR compute OR storage) price:[1 TO 2]")
	require.NoError(t, err)
	placeholders := 0
	for _, c := range got.SQL {
		if c == '?' {
			placeholders++
		}
	}
	require.Equal(t, len(got.Values), placeholders)
}

func TestCompile_NumericFieldRejectsNonNumeric(t *testing.T) {
	_, err := Compile(testSchema(), "cores:abc")
	require.ErrorIs(t, err, ErrBadNumericValue)
}
