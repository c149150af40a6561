package core

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineConfirmer(t *testing.T) {
	for input, want := range map[string]bool{
		"y\n":     true,
		"YES\n":   true,
		" y \n":   true,
		"n\n":     false,
		"\n":      false,
		"":        false,
		"maybe\n": false,
	} {
		var out bytes.Buffer
		ok, err := LineConfirmer{In: strings.NewReader(input), Out: &out}.Confirm(context.Background(), "Terminate 3 instances?")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "input %q", input)
		assert.Equal(t, "Terminate 3 instances? [y/N] ", out.String())
	}
}

func TestNewConfirmer(t *testing.T) {
	assert.Equal(t, AutoConfirm(true), NewConfirmer(true, os.Stdin, os.Stderr))

	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	defer f.Close()
	_, isLine := NewConfirmer(false, f, os.Stderr).(LineConfirmer)
	assert.True(t, isLine, "a regular file is not a terminal")
}
