package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDSet_SortsAndDedupes(t *testing.T) {
	s := NewIDSet("c", "a", "", "b", "a")
	assert.Equal(t, IDSet{"a", "b", "c"}, s)
	assert.Equal(t, 3, s.Len())
}

func TestIDSet_AddRemoveDoNotMutateReceiver(t *testing.T) {
	orig := NewIDSet("a", "c")

	added := orig.Add("b")
	assert.Equal(t, IDSet{"a", "b", "c"}, added)
	assert.Equal(t, IDSet{"a", "c"}, orig)

	removed := added.Remove("a")
	assert.Equal(t, IDSet{"b", "c"}, removed)
	assert.Equal(t, IDSet{"a", "b", "c"}, added)

	assert.Equal(t, orig, orig.Remove("missing"))
	assert.Equal(t, orig, orig.Add("a"))
}

func TestIDSet_Has(t *testing.T) {
	s := NewIDSet("u1", "u2")
	assert.True(t, s.Has("u1"))
	assert.False(t, s.Has("u3"))

	var empty IDSet
	assert.False(t, empty.Has("u1"))
}

func TestIDSet_ValueAndScan(t *testing.T) {
	v, err := IDSet(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	v, err = NewIDSet("b", "a").Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	tests := []struct {
		name  string
		input interface{}
		want  IDSet
	}{
		{"nil", nil, nil},
		{"empty string", "", nil},
		{"null", []byte("null"), nil},
		{"empty array", "[]", IDSet{}},
		{"unsorted with duplicates", []byte(`["z","a","z"]`), IDSet{"a", "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s IDSet
			require.NoError(t, s.Scan(tt.input))
			assert.Equal(t, tt.want.Len(), s.Len())
			for _, id := range tt.want {
				assert.True(t, s.Has(id))
			}
		})
	}

	var s IDSet
	assert.Error(t, s.Scan(42))
	assert.Error(t, s.Scan("{not json"))
}

func TestIDSet_CloneIsIndependent(t *testing.T) {
	s := NewIDSet("a", "b")
	c := s.Clone()
	c[0] = "x"
	assert.Equal(t, "a", s[0])
	assert.Nil(t, IDSet(nil).Clone())
}
