package studyapi

import (
	"context"
	"encoding/json"
	"time"

	"studycore/pkg/domain"
)

// Layout identifies the table shape a template materializes.
type Layout string

const (
	// LayoutLong emits one row per subject and condition.
	LayoutLong Layout = "long"
	// LayoutWide emits one row per subject with an outcome column per condition.
	LayoutWide Layout = "wide"
)

// Format identifies an encoding a template run can be materialized into.
type Format string

const (
	// FormatJSON encodes rows as a JSON document.
	FormatJSON Format = "json"
	// FormatCSV encodes rows as comma separated values.
	FormatCSV Format = "csv"
)

// Scope carries requestor identity alongside a template run.
type Scope struct {
	Requestor string   `json:"requestor"`
	Roles     []string `json:"roles,omitempty"`
	StudyIDs  []string `json:"study_ids,omitempty"`
}

// Parameter declares one input a template accepts. Example and Default hold
// raw JSON so descriptors serialize without further conversion.
type Parameter struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Required    bool            `json:"required"`
	Description string          `json:"description,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
	Example     json.RawMessage `json:"example,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
}

// ParameterError describes one rejected template parameter.
type ParameterError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Column describes one column of a template's output schema.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
}

// Metadata carries descriptive template metadata surfaced in catalogs.
type Metadata struct {
	Source          string            `json:"source,omitempty"`
	Documentation   string            `json:"documentation,omitempty"`
	RefreshInterval string            `json:"refresh_interval,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Annotations     map[string]string `json:"annotations,omitempty"`
}

// Environment provides runtime dependencies to template binders.
type Environment struct {
	Store domain.PersistentStore
	Now   func() time.Time
}

// Row is a single materialized output record keyed by column name.
type Row map[string]any

// Template is a dataset template contributed by a study module.
type Template struct {
	Key           string
	Version       string
	Title         string
	Description   string
	Layout        Layout
	Parameters    []Parameter
	Columns       []Column
	Metadata      Metadata
	OutputFormats []Format
	Binder        Binder
}

// TemplateDescriptor is the serializable projection of a registered template.
type TemplateDescriptor struct {
	Module        string      `json:"module"`
	Key           string      `json:"key"`
	Version       string      `json:"version"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Layout        Layout      `json:"layout"`
	Parameters    []Parameter `json:"parameters"`
	Columns       []Column    `json:"columns"`
	Metadata      Metadata    `json:"metadata"`
	OutputFormats []Format    `json:"output_formats"`
	Slug          string      `json:"slug"`
}

// RunRequest is handed to a bound runner for one template execution.
type RunRequest struct {
	Template   TemplateDescriptor
	Parameters map[string]any
	Scope      Scope
}

// RunResult is the materialized output of one template execution.
type RunResult struct {
	Schema      []Column       `json:"schema"`
	Rows        []Row          `json:"rows"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
	Format      Format         `json:"format"`
}

// Runner executes a bound template.
type Runner func(context.Context, RunRequest) (RunResult, error)

// Binder produces a Runner from the host environment.
type Binder func(Environment) (Runner, error)

// TemplateRuntime is the host-side surface of a registered template.
type TemplateRuntime interface {
	Descriptor() TemplateDescriptor
	Slug() string
	SupportsFormat(Format) bool
	ValidateParameters(map[string]any) (map[string]any, []ParameterError)
	Run(context.Context, map[string]any, Scope, Format) (RunResult, []ParameterError, error)
}
