package object

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Ident(t *testing.T) {
	rec := New("Assignment", map[string]any{
		"productId":    "prod-1",
		"endpointId":   "ep-1",
		"installState": "installed",
	})
	assert.Equal(t, "prod-1;ep-1", rec.Ident(), "ident joins ident attrs in catalog order")
}

func TestRecord_Ident_UnknownType(t *testing.T) {
	rec := New("Bogus", map[string]any{"id": "x"})
	assert.Equal(t, "", rec.Ident())
}

func TestRecord_IdentFilter(t *testing.T) {
	rec := New("Assignment", map[string]any{"productId": "p", "endpointId": "e"})
	f := rec.IdentFilter()
	assert.Equal(t, map[string][]string{
		"productId":  {"p"},
		"endpointId": {"e"},
	}, f)
}

func TestNormalize_RoundTripsThroughJSON(t *testing.T) {
	rec := New("ConfigState", map[string]any{
		"settingId":  "s1",
		"endpointId": "e1",
		"values":     []string{"a", "b"},
		"priority":   7,
		"enabled":    true,
	})

	data, err := json.Marshal(rec.Attrs)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, rec.Attrs, back, "normalized attrs must survive a JSON round trip unchanged")
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name    string
		a, b    map[string]any
		exclude []string
		want    bool
	}{
		{
			name: "identical",
			a:    map[string]any{"id": "e1", "key": "k"},
			b:    map[string]any{"id": "e1", "key": "k"},
			want: true,
		},
		{
			name: "differs",
			a:    map[string]any{"id": "e1", "key": "k"},
			b:    map[string]any{"id": "e1", "key": "other"},
			want: false,
		},
		{
			name:    "differs only on excluded attr",
			a:       map[string]any{"id": "e1", "modifiedAt": "1"},
			b:       map[string]any{"id": "e1", "modifiedAt": "2"},
			exclude: []string{"modifiedAt"},
			want:    true,
		},
		{
			name: "nil equals absent",
			a:    map[string]any{"id": "e1", "key": nil},
			b:    map[string]any{"id": "e1"},
			want: true,
		},
		{
			name: "list values compared by content",
			a:    map[string]any{"id": "e1", "values": []string{"a", "b"}},
			b:    map[string]any{"id": "e1", "values": []string{"a", "b"}},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New("Endpoint", tt.a)
			b := New("Endpoint", tt.b)
			assert.Equal(t, tt.want, Equal(a, b, tt.exclude...))
		})
	}
}

func TestEqual_DifferentTypes(t *testing.T) {
	a := New("Endpoint", map[string]any{"id": "x"})
	b := New("Depot", map[string]any{"id": "x"})
	assert.False(t, Equal(a, b))
}

func TestClone_IsDeep(t *testing.T) {
	rec := New("ConfigState", map[string]any{
		"settingId": "s1", "endpointId": "e1",
		"values": []string{"a"},
	})
	clone := rec.Clone()
	clone.Attrs["values"].([]any)[0] = "mutated"

	assert.Equal(t, []string{"a"}, AttrStrings(rec, "values"))
}

func TestCloneIdentOnly(t *testing.T) {
	rec := New("Assignment", map[string]any{
		"productId": "p", "endpointId": "e",
		"installState": "installed",
	})
	ident := rec.CloneIdentOnly()
	assert.Equal(t, map[string]any{"productId": "p", "endpointId": "e"}, ident.Attrs)
	assert.Equal(t, rec.Ident(), ident.Ident())
}

func TestAttrString(t *testing.T) {
	rec := New("Endpoint", map[string]any{
		"id": "e1", "count": 3, "flag": true, "missing": nil,
	})
	assert.Equal(t, "e1", AttrString(rec, "id"))
	assert.Equal(t, "3", AttrString(rec, "count"))
	assert.Equal(t, "true", AttrString(rec, "flag"))
	assert.Equal(t, "", AttrString(rec, "missing"))
	assert.Equal(t, "", AttrString(rec, "absent"))
}

func TestAttrStrings(t *testing.T) {
	rec := New("ConfigState", map[string]any{
		"settingId": "s", "endpointId": "e",
		"values": []string{"a", "b"},
	})
	assert.Equal(t, []string{"a", "b"}, AttrStrings(rec, "values"))
	assert.Nil(t, AttrStrings(rec, "absent"))
	assert.Equal(t, []string{"s"}, AttrStrings(rec, "settingId"), "scalar becomes one-element slice")
}

func TestSetEqual(t *testing.T) {
	assert.True(t, SetEqual([]string{"a", "b"}, []string{"b", "a"}))
	assert.True(t, SetEqual([]string{"a", "a", "b"}, []string{"b", "a"}), "duplicates ignored")
	assert.True(t, SetEqual(nil, nil))
	assert.False(t, SetEqual([]string{"a"}, []string{"a", "b"}))
	assert.False(t, SetEqual([]string{"a", "c"}, []string{"a", "b"}))
}

func TestLookup(t *testing.T) {
	typ, ok := Lookup("Assignment")
	require.True(t, ok)
	assert.Equal(t, []string{"productId", "endpointId"}, typ.IdentAttrs)

	_, ok = Lookup("Bogus")
	assert.False(t, ok)
}
