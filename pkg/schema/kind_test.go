package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		got, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, k, got)
		assert.Equal(t, name, got.String())
	}

	_, err := ParseKind("uint128_t")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKind_Sizes(t *testing.T) {
	tests := []struct {
		kind  Kind
		size  int
		array bool
	}{
		{KindInt8, 1, false},
		{KindUInt16, 2, false},
		{KindFp32, 4, false},
		{KindInt64, 8, false},
		{KindFp64, 8, false},
		{KindPlainText, 0, true},
		{KindRawData, 0, true},
		{KindMessage, 0, false},
		{KindMessageList, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.size, tt.kind.Size())
			assert.Equal(t, tt.array, tt.kind.IsArray())
		})
	}
	assert.True(t, KindInt32.IsSigned())
	assert.True(t, KindUInt32.IsUnsigned())
	assert.True(t, KindFp32.IsFloat())
	assert.False(t, KindPlainText.IsNumeric())
}
