package sctp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerialNumberArithmetic32(t *testing.T) {
	tests := []struct {
		name string
		a    uint32
		b    uint32
		lt   bool
		gt   bool
	}{
		{"simple order", 1, 2, true, false},
		{"equal", 100, 100, false, false},
		{"reverse", 2, 1, false, true},
		{"wrap boundary", 0xffffffff, 0, true, false},
		{"wrap distant", 0xfffffff0, 0x10, true, false},
		{"half range is not less", 0, 1 << 31, false, false},
		{"just below half range", 0, (1 << 31) - 1, true, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.lt, sna32LT(test.a, test.b))
			assert.Equal(t, test.gt, sna32GT(test.a, test.b))
		})
	}

	assert.True(t, sna32LTE(7, 7))
	assert.True(t, sna32GTE(7, 7))
	assert.True(t, sna32LTE(0xffffffff, 1))
	assert.True(t, sna32GTE(1, 0xffffffff))
}

func TestSerialNumberArithmetic16(t *testing.T) {
	assert.True(t, sna16LT(1, 2))
	assert.True(t, sna16LT(0xffff, 0))
	assert.False(t, sna16LT(2, 1))
	assert.False(t, sna16LT(3, 3))
	assert.True(t, sna16GT(0, 0xffff))
	assert.True(t, sna16GT(0x7fff, 0))
}
