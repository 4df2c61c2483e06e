package exports

import (
	"context"

	"studycore/pkg/studyapi"
)

// Template is the slice of a registered study template the export worker
// needs: descriptor metadata, format support, parameter validation, and
// execution.
type Template interface {
	Descriptor() studyapi.TemplateDescriptor
	SupportsFormat(studyapi.Format) bool
	ValidateParameters(map[string]any) (map[string]any, []studyapi.ParameterError)
	Run(context.Context, map[string]any, studyapi.Scope, studyapi.Format) (studyapi.RunResult, []studyapi.ParameterError, error)
}

// Catalog resolves template slugs on behalf of the worker.
type Catalog interface {
	ResolveTemplate(slug string) (Template, bool)
}

// CatalogFunc adapts a resolve function to the Catalog interface.
type CatalogFunc func(slug string) (Template, bool)

// ResolveTemplate invokes the wrapped function.
func (f CatalogFunc) ResolveTemplate(slug string) (Template, bool) { return f(slug) }
