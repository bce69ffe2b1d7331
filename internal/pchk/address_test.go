package pchk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input string
		want  Address
	}{
		{"s0.m7", ModuleAddress(0, 7)},
		{"S0.M7", ModuleAddress(0, 7)},
		{"s5.g12", GroupAddress(5, 12)},
		{"m7", ModuleAddress(0, 7)},
		{"g5", GroupAddress(0, 5)},
		{"S000M007", ModuleAddress(0, 7)},
		{"S002G003", GroupAddress(2, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	for _, input := range []string{"", "x7", "s0.", "s0.m", "sx.m7", "s0.m255", "s128.m7", "0.m7", "m-1"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseAddress(input)
			assert.ErrorIs(t, err, ErrInvalidAddress)
		})
	}
}

func TestAddress_String(t *testing.T) {
	assert.Equal(t, "S000M007", ModuleAddress(0, 7).String())
	assert.Equal(t, "S010G005", GroupAddress(10, 5).String())
}

func TestAddress_PCKPrefix(t *testing.T) {
	assert.Equal(t, ">M000007.", ModuleAddress(0, 7).PCKPrefix(false))
	assert.Equal(t, ">M000007!", ModuleAddress(0, 7).PCKPrefix(true))
	assert.Equal(t, ">G000005.", GroupAddress(0, 5).PCKPrefix(true), "groups never acknowledge")
}

func TestAddress_PhysicalLogical(t *testing.T) {
	local := ModuleAddress(5, 7)
	assert.Equal(t, ModuleAddress(0, 7), local.Physical(5))
	assert.Equal(t, ModuleAddress(6, 7), ModuleAddress(6, 7).Physical(5))
	assert.Equal(t, local, ModuleAddress(0, 7).Logical(5))
	assert.Equal(t, ModuleAddress(6, 7), ModuleAddress(6, 7).Logical(5))
}
