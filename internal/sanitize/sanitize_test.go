package sanitize

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"lexsy", "lexsy"},
		{"Lexsy, Inc.", "lexsy_inc"},
		{"acme-corp/legal", "acme_corp_legal"},
		{"__x__", "x"},
		{"", DefaultIdentifier},
		{"!!!", DefaultIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.in))
		})
	}

	long := Identifier(strings.Repeat("a", 100))
	assert.Len(t, long, MaxIdentifierLength)
	assert.True(t, ValidNamespace(long))
}

func TestNamespace(t *testing.T) {
	a := Namespace("lexsy")
	assert.True(t, strings.HasPrefix(a, "lexsy_"))
	assert.Len(t, a, len("lexsy_")+8)
	assert.Equal(t, a, Namespace("lexsy"), "stable")

	// IDs that sanitize identically never share a namespace.
	ids := []string{"Lexsy", "lexsy", "lexsy!", "lexsy ", "LEXSY"}
	seen := map[string]string{}
	for _, id := range ids {
		ns := Namespace(id)
		require.True(t, ValidNamespace(ns), ns)
		if prev, ok := seen[ns]; ok {
			t.Fatalf("%q and %q collide on %q", prev, id, ns)
		}
		seen[ns] = id
	}

	long := Namespace(strings.Repeat("client", 30))
	assert.True(t, ValidNamespace(long))
	assert.LessOrEqual(t, len(long), MaxIdentifierLength)
}

func TestValidateClientID(t *testing.T) {
	assert.NoError(t, ValidateClientID("lexsy"))
	assert.NoError(t, ValidateClientID("Acme Corp, LLP"))

	for _, bad := range []string{"", "   ", "a/b", `a\b`, "tab\tid", strings.Repeat("x", MaxClientIDLength+1), "\xff"} {
		assert.ErrorIs(t, ValidateClientID(bad), ErrInvalidClientID, "%q", bad)
	}
}

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	got, err := ValidatePath(filepath.Join(root, "lexsy", "memo.txt"), root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "lexsy", "memo.txt"), got)

	_, err = ValidatePath(filepath.Join(root, "..", "etc", "passwd"), root)
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = ValidatePath("", root)
	assert.ErrorIs(t, err, ErrEmptyPath)
}
