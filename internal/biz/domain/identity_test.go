package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandAlternates(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"first and last", "Drew Bomhof", []string{"bomhof", "dbomhof", "drew"}},
		{"middle name ignored", "Mary Jane Watson", []string{"mary", "mwatson", "watson"}},
		{"single word", "Cher", []string{"cher"}},
		{"email", "drew.bomhof@example.com", []string{"drew.bomhof", "drew.bomhof@example.com"}},
		{"blank", "   ", []string{}},
		{"extra spacing", "  Drew   Bomhof ", []string{"bomhof", "dbomhof", "drew"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandAlternates(tt.input))
		})
	}
}

func TestExpandAlternates_Deterministic(t *testing.T) {
	first := ExpandAlternates("Drew Bomhof")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ExpandAlternates("Drew Bomhof"))
	}
}

func TestNewIdentity(t *testing.T) {
	id := NewIdentity(" Drew Bomhof ", "page-title")

	assert.True(t, id.Resolved)
	assert.False(t, id.IsUnknown())
	assert.Equal(t, "Drew Bomhof", id.Name)
	assert.Equal(t, "page-title", id.Source)
	assert.Equal(t, []string{"drew bomhof", "bomhof", "dbomhof", "drew"}, id.MatchForms())
}

func TestNewIdentity_BlankIsSentinel(t *testing.T) {
	id := NewIdentity("", "page-title")

	assert.True(t, id.IsUnknown())
	assert.Equal(t, UnknownUserName, id.Name)
	assert.Empty(t, id.Alternates)
	assert.Nil(t, id.MatchForms())
}

func TestIdentity_Equal(t *testing.T) {
	a := NewIdentity("Drew Bomhof", "x")
	b := NewIdentity("Drew Bomhof", "y")
	c := NewIdentity("Drew B", "x")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(UnknownIdentity()))
}

func TestScanContext_NavigationDiscardsIdentity(t *testing.T) {
	sc := NewScanContext(ScanCursor{})
	changed := sc.UpdateIdentity(NewIdentity("Drew Bomhof", "x"), "https://app.slack.com/client/T1/C1")
	require.True(t, changed)

	assert.False(t, sc.Navigated("https://app.slack.com/client/T1/C1#1700000000.000100"))
	assert.True(t, sc.Identity.Resolved)

	assert.True(t, sc.Navigated("https://app.slack.com/client/T1/D9"))
	assert.True(t, sc.Identity.IsUnknown())
}

func TestScanContext_Complete(t *testing.T) {
	sc := NewScanContext(ScanCursor{})
	require.True(t, sc.Cursor.IsZero())

	now := time.Unix(1700000000, 0)
	sc.Complete(now)
	assert.Equal(t, now, sc.Cursor.LastCheckedAt)
	assert.Equal(t, 5*time.Second, sc.Cursor.Since(now.Add(5*time.Second)))
}
