package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestMatch_CaseInsensitiveDotPath(t *testing.T) {
	doc := decode(t, `{"Instance_Types":{"ID":"gpu-a100","VCPUS":16}}`)
	m := New()
	assert.True(t, m.Match(doc, Condition{Path: "instance_types.id", Op: OpEq, Value: "gpu-a100"}))
	assert.True(t, m.Match(doc, Condition{Path: "instance_types.vcpus", Op: OpGTE, Value: 8}))
	assert.False(t, m.Match(doc, Condition{Path: "instance_types.vcpus", Op: OpGTE, Value: 32}))
}

func TestMatch_ArrayTraversal(t *testing.T) {
	doc := decode(t, `{"offerings":[{"region":"eu"},{"region":"us"}]}`)
	m := New()
	assert.True(t, m.Match(doc, Condition{Path: "offerings.region", Op: OpEq, Value: "us"}))
	assert.False(t, m.Match(doc, Condition{Path: "offerings.region", Op: OpEq, Value: "ap"}))
}

func TestMatch_ByteSizeCoercion(t *testing.T) {
	doc := decode(t, `{"memory":"4 GB"}`)
	m := New()
	assert.True(t, m.Match(doc, Condition{Path: "memory", Op: OpEq, Value: float64(4294967296)}))
	assert.True(t, m.Match(doc, Condition{Path: "memory", Op: OpGT, Value: float64(1 << 30)}))
}

func TestMatch_Operators(t *testing.T) {
	doc := decode(t, `{"name":"gpu-large","price":199.5,"active":true}`)
	m := New()
	assert.True(t, m.Match(doc, Condition{Path: "name", Op: OpContains, Value: "large"}))
	assert.True(t, m.Match(doc, Condition{Path: "name", Op: OpStartswith, Value: "gpu"}))
	assert.True(t, m.Match(doc, Condition{Path: "name", Op: OpEndswith, Value: "large"}))
	assert.True(t, m.Match(doc, Condition{Path: "name", Op: OpRegex, Value: "^gpu-"}))
	assert.True(t, m.Match(doc, Condition{Path: "price", Op: OpLT, Value: 200}))
	assert.True(t, m.Match(doc, Condition{Path: "active", Op: OpEq, Value: true}))
	assert.True(t, m.Match(doc, Condition{Path: "price", Op: OpNeq, Value: 1}))
}

func TestMatch_FuzzyLike(t *testing.T) {
	doc := decode(t, `{"name":"Decent Cloud"}`)
	m := New()
	assert.True(t, m.Match(doc, Condition{Path: "name", Op: OpLike, Value: "decent cloud"}))
	assert.True(t, m.Match(doc, Condition{Path: "name", Op: OpLike, Value: "Decent Clod"})) // close typo
	assert.False(t, m.Match(doc, Condition{Path: "name", Op: OpLike, Value: "completely different"}))
	assert.True(t, m.Match(doc, Condition{Path: "name", Op: OpNotLike, Value: "completely different"}))
}

func TestMatch_CustomThreshold(t *testing.T) {
	doc := decode(t, `{"name":"gpu"}`)
	strict := &Matcher{FuzzyThreshold: 0.999}
	assert.False(t, strict.Match(doc, Condition{Path: "name", Op: OpLike, Value: "cpu"}))
	loose := &Matcher{FuzzyThreshold: 0.5}
	assert.True(t, loose.Match(doc, Condition{Path: "name", Op: OpLike, Value: "cpu"}))
}

func TestParentKeyMatches(t *testing.T) {
	doc := decode(t, `{"instance_types":[
		{"id":"a100","vcpus":16},
		{"id":"t4","vcpus":4}
	]}`)
	m := New()
	ids := m.ParentKeyMatches(doc, Condition{Path: "vcpus", Op: OpGTE, Value: 8}, "id")
	require.Len(t, ids, 1)
	assert.Equal(t, "a100", ids[0])
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"4 GB", 4294967296, true},
		{"512MiB", 512 * (1 << 20), true},
		{"1KB", 1 << 10, true},
		{"1.5TB", uint64(1.5 * (1 << 40)), true},
		{"not a size", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseByteSize(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		if c.ok {
			assert.Equal(t, c.want, got, c.in)
		}
	}
}

func TestMatch_UnknownPathNeverMatches(t *testing.T) {
	doc := decode(t, `{"name":"gpu"}`)
	m := New()
	assert.False(t, m.Match(doc, Condition{Path: "missing.path", Op: OpEq, Value: "x"}))
}

func TestGetPath(t *testing.T) {
	doc := decode(t, `{"offerings":[{"id":"a100"},{"id":"t4"}]}`)
	v, err := GetPath(doc, "$.offerings[0].id")
	require.NoError(t, err)
	assert.Equal(t, "a100", v)
}
