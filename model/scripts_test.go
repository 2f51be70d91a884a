package model

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptOwner(t *testing.T) {
	compressed := append([]byte{0x03}, bytes.Repeat([]byte{0x5a}, 32)...)
	uncompressed := append([]byte{0x04}, bytes.Repeat([]byte{0x11}, 64)...)

	stake, err := NewStakeLockScript(compressed)
	require.NoError(t, err)

	p2pk, err := NewP2PKScript(compressed)
	require.NoError(t, err)

	p2pkLong, err := NewP2PKScript(uncompressed)
	require.NoError(t, err)

	tests := []struct {
		name   string
		script []byte
		owner  []byte
	}{
		{"stake lock", *stake, compressed},
		{"pay to compressed key", *p2pk, compressed},
		{"pay to uncompressed key", *p2pkLong, uncompressed},
		{"anyone can spend", *opTrue, nil},
		{"stake lock with trailing opcode", append(append([]byte(nil), *stake...), 0x51), nil},
		{"key push without checksig", append([]byte(nil), (*p2pk)[:34]...), nil},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, ok := ScriptOwner(tt.script)
			assert.Equal(t, tt.owner != nil, ok)
			assert.Equal(t, tt.owner, owner)
		})
	}
}

func TestStakeLockMarker(t *testing.T) {
	pubKey := append([]byte{0x02}, bytes.Repeat([]byte{0xab}, 32)...)

	script, err := NewStakeLockScript(pubKey)
	require.NoError(t, err)

	b := append([]byte(nil), *script...)
	b[1] = 'X'

	_, ok := ParseStakeLockScript(b)
	assert.False(t, ok)
}
