package core

import (
	"errors"
	"fmt"
)

var ErrUnknownCapability = errors.New("unknown capability")

// Route binds a capability tag to a default provider and model.
type Route struct {
	Provider string
	Model    string
}

// RouteTable resolves capability tags. Fixed at startup; an explicit
// provider+model on the request always wins over the table.
type RouteTable struct {
	routes       map[string]Route
	defaultRoute Route
}

func NewRouteTable(defaultProvider, defaultModel string) *RouteTable {
	return &RouteTable{
		routes: map[string]Route{
			"fast":        {Provider: "gemini", Model: "gemini-2.0-flash"},
			"cheap":       {Provider: "openai", Model: "gpt-4o-mini"},
			"quality":     {Provider: "claude", Model: "claude-3-5-sonnet-20241022"},
			"translation": {Provider: "openai", Model: "gpt-4o"},
		},
		defaultRoute: Route{Provider: defaultProvider, Model: defaultModel},
	}
}

// Set overrides or adds a capability route.
func (t *RouteTable) Set(capability string, r Route) {
	t.routes[capability] = r
}

// Resolve picks the provider+model for a request. Explicit fields win; a
// capability tag is looked up in the table; with neither, the default route
// applies. A partially explicit request (model without provider) keeps the
// resolved provider and overrides only the model.
func (t *RouteTable) Resolve(capability, explicitProvider, explicitModel string) (Route, error) {
	r := t.defaultRoute
	if capability != "" {
		tagged, ok := t.routes[capability]
		if !ok {
			return Route{}, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
		}
		r = tagged
	}
	if explicitProvider != "" {
		r.Provider = explicitProvider
		if explicitModel == "" {
			// A bare provider override drops the tag's model; the
			// adapter's catalog head is the provider default.
			r.Model = ""
		}
	}
	if explicitModel != "" {
		r.Model = explicitModel
	}
	return r, nil
}
