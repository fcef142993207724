// Package tools dispatches validated tool calls: it resolves handlers from a
// registry, enforces the confirmation firewall for risky tools, and reports
// every invocation to the observability layer.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/bantz-ai/bantz/internal/risk"
)

// Handler executes a tool with a parsed params map and returns a result map
// or an error. Errors must carry a message safe to surface to the user.
type Handler func(ctx context.Context, action string, params map[string]any) (map[string]any, error)

// Definition describes a callable tool. Name must be lowercase dotted or
// snake_case and never change; Risk feeds the confirmation firewall;
// FingerprintParams names the params that identify a creation for
// idempotency and approval matching (empty means approvals match by tool
// name alone).
type Definition struct {
	Name              string
	Description       string
	JSONSchema        json.RawMessage
	Handler           Handler
	Risk              risk.Level
	FingerprintParams []string
}

// Registry holds the available tools keyed by name. Register risky tools
// before serving turns; the table is read-mostly afterwards.
type Registry struct {
	nameToDef map[string]Definition
	risks     *risk.Registry
}

var toolNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*(?:\.[a-z][a-z0-9_]*)*$`)

// NewRegistry creates an empty registry bound to a risk table. Registering a
// tool also records its risk there.
func NewRegistry(risks *risk.Registry) *Registry {
	return &Registry{nameToDef: make(map[string]Definition), risks: risks}
}

// Register adds or replaces a tool definition after validation.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" || !toolNameRe.MatchString(def.Name) {
		return fmt.Errorf("invalid tool name %q: must be lowercase dotted snake_case", def.Name)
	}
	if def.Handler == nil {
		return errors.New("handler must not be nil")
	}
	if len(def.JSONSchema) > 0 && !json.Valid(def.JSONSchema) {
		return fmt.Errorf("tool %s: schema is not valid JSON", def.Name)
	}
	if def.Risk == "" {
		def.Risk = risk.Moderate
	}
	r.nameToDef[def.Name] = def
	if r.risks != nil {
		r.risks.Register(def.Name, def.Risk, "")
	}
	return nil
}

// Get returns a tool definition by name if present.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.nameToDef[name]
	return def, ok
}

// Names returns the registered tool names sorted for determinism.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.nameToDef))
	for name := range r.nameToDef {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner returns a dispatch function over this registry, suitable for the
// executor: it resolves the named tool and invokes its handler.
func (r *Registry) Runner() Handler {
	return func(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
		def, ok := r.Get(action)
		if !ok {
			return nil, fmt.Errorf("bilinmeyen araç: %s", action)
		}
		return def.Handler(ctx, action, params)
	}
}
