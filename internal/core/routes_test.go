package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_DefaultRoute(t *testing.T) {
	rt := NewRouteTable("claude", "claude-3-5-sonnet-20241022")

	r, err := rt.Resolve("", "", "")
	require.NoError(t, err)
	assert.Equal(t, "claude", r.Provider)
	assert.Equal(t, "claude-3-5-sonnet-20241022", r.Model)
}

func TestResolve_Capability(t *testing.T) {
	rt := NewRouteTable("claude", "claude-3-5-sonnet-20241022")

	r, err := rt.Resolve("fast", "", "")
	require.NoError(t, err)
	assert.Equal(t, "gemini", r.Provider)
	assert.Equal(t, "gemini-2.0-flash", r.Model)
}

func TestResolve_UnknownCapability(t *testing.T) {
	rt := NewRouteTable("claude", "claude-3-5-sonnet-20241022")

	_, err := rt.Resolve("psychic", "", "")
	assert.True(t, errors.Is(err, ErrUnknownCapability))
}

func TestResolve_ExplicitWinsOverCapability(t *testing.T) {
	rt := NewRouteTable("claude", "claude-3-5-sonnet-20241022")

	r, err := rt.Resolve("fast", "openai", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", r.Provider)
	assert.Equal(t, "gpt-4o", r.Model)
}

func TestResolve_BareProviderDropsTaggedModel(t *testing.T) {
	rt := NewRouteTable("claude", "claude-3-5-sonnet-20241022")

	// Overriding only the provider must not pair it with another
	// provider's model; the model falls back to the adapter default.
	r, err := rt.Resolve("fast", "openai", "")
	require.NoError(t, err)
	assert.Equal(t, "openai", r.Provider)
	assert.Empty(t, r.Model)
}

func TestResolve_ModelOnlyKeepsResolvedProvider(t *testing.T) {
	rt := NewRouteTable("claude", "claude-3-5-sonnet-20241022")

	r, err := rt.Resolve("", "", "claude-3-opus-20240229")
	require.NoError(t, err)
	assert.Equal(t, "claude", r.Provider)
	assert.Equal(t, "claude-3-opus-20240229", r.Model)
}

func TestSet_OverridesRoute(t *testing.T) {
	rt := NewRouteTable("claude", "claude-3-5-sonnet-20241022")
	rt.Set("fast", Route{Provider: "cohere", Model: "command-r"})

	r, err := rt.Resolve("fast", "", "")
	require.NoError(t, err)
	assert.Equal(t, "cohere", r.Provider)
	assert.Equal(t, "command-r", r.Model)
}
