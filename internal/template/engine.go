// internal/template/engine.go
// Package template resolves tenant-scoped message templates and renders them
// against a variable set. Rendering is a pure function over the store and its
// inputs: no side effects, no code execution, literal placeholder replacement.
package template

import (
	"context"
	"regexp"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

// Engine renders templates resolved from a Store.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Render resolves the active default template for (tenantID, channel, name)
// and substitutes variables. Every required variable must be present;
// rendering fails closed with MISSING_VARIABLE naming the first absent key,
// never a partially-substituted message. Placeholders that are not required
// are optional and collapse to an empty string when absent. Subject rendering
// is skipped for non-email channels.
func (e *Engine) Render(ctx context.Context, tenantID string, channel models.Channel, name string, variables map[string]string) (*models.RenderedMessage, error) {
	tmpl, err := e.store.ResolveActiveDefault(ctx, tenantID, name, channel)
	if err != nil {
		return nil, err
	}

	for _, required := range tmpl.RequiredVariables {
		if _, ok := variables[required]; !ok {
			return nil, errors.NewMissingVariableError(required)
		}
	}

	msg := &models.RenderedMessage{
		Body: substitute(tmpl.BodyTemplate, variables),
	}
	if channel == models.ChannelEmail && tmpl.SubjectTemplate != "" {
		msg.Subject = substitute(tmpl.SubjectTemplate, variables)
	}
	return msg, nil
}

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// substitute replaces every {{name}} placeholder in a single pass over the
// template. Absent optional variables collapse to the empty string, and a
// variable value is inserted verbatim, never rescanned for placeholders.
func substitute(tmpl string, variables map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[2 : len(match)-2]
		return variables[name]
	})
}
