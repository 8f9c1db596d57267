package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "a"))
	assert.False(t, Contains([]string{"a", "b"}, "c"))
	assert.True(t, Contains([]int{1, 2, 3}, 2))
}

func TestSafeIntToUint64(t *testing.T) {
	assert.Equal(t, uint64(5), SafeIntToUint64(5))
	assert.Equal(t, uint64(0), SafeIntToUint64(-5))
}

func TestIsNilOrEmpty(t *testing.T) {
	empty := ""
	spaces := "   "
	value := "x"

	assert.True(t, IsNilOrEmpty(nil))
	assert.True(t, IsNilOrEmpty(&empty))
	assert.True(t, IsNilOrEmpty(&spaces))
	assert.False(t, IsNilOrEmpty(&value))
}

func TestGenerateUUIDv4(t *testing.T) {
	id := GenerateUUIDv4()

	require.True(t, IsUUID(id.String()))
	assert.EqualValues(t, 4, id.Version())
}

func TestStructToJSONString(t *testing.T) {
	out, err := StructToJSONString(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, out)
}
