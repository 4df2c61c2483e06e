package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studycore/pkg/studyapi"
)

type (
	// StudyLayout mirrors studyapi.Layout for service consumers.
	StudyLayout = studyapi.Layout
	// StudyFormat mirrors studyapi.Format for service consumers.
	StudyFormat = studyapi.Format
	// StudyScope mirrors studyapi.Scope for service consumers.
	StudyScope = studyapi.Scope
	// StudyParameter mirrors studyapi.Parameter for service consumers.
	StudyParameter = studyapi.Parameter
	// StudyParameterError mirrors studyapi.ParameterError for service consumers.
	StudyParameterError = studyapi.ParameterError
	// StudyColumn mirrors studyapi.Column for service consumers.
	StudyColumn = studyapi.Column
	// StudyTemplateMetadata mirrors studyapi.Metadata for service consumers.
	StudyTemplateMetadata = studyapi.Metadata
	// StudyEnvironment mirrors studyapi.Environment for service consumers.
	StudyEnvironment = studyapi.Environment
	// StudyBinder mirrors studyapi.Binder for service consumers.
	StudyBinder = studyapi.Binder
	// StudyRunner mirrors studyapi.Runner for service consumers.
	StudyRunner = studyapi.Runner
	// StudyRunResult mirrors studyapi.RunResult for service consumers.
	StudyRunResult = studyapi.RunResult
	// StudyTemplateDescriptor mirrors studyapi.TemplateDescriptor for service consumers.
	StudyTemplateDescriptor = studyapi.TemplateDescriptor
)

const (
	// LayoutLong exposes studyapi.LayoutLong via the core package.
	LayoutLong StudyLayout = studyapi.LayoutLong
	// LayoutWide exposes studyapi.LayoutWide via the core package.
	LayoutWide StudyLayout = studyapi.LayoutWide
)

const (
	// FormatJSON exposes studyapi.FormatJSON via the core package.
	FormatJSON StudyFormat = studyapi.FormatJSON
	// FormatCSV exposes studyapi.FormatCSV via the core package.
	FormatCSV StudyFormat = studyapi.FormatCSV
)

// StudyTemplate wraps a dataset template contributed by modules and manages
// host-side runtime state via pkg/studyapi's HostTemplate implementation.
type StudyTemplate struct {
	studyapi.Template
	Module string

	host *studyapi.HostTemplate
}

// Descriptor produces a descriptor snapshot for the template, cloning metadata to guard against mutation.
func (t StudyTemplate) Descriptor() StudyTemplateDescriptor {
	if host, err := t.hostOrNew(); err == nil {
		return host.Descriptor()
	}
	return StudyTemplateDescriptor{
		Module:        t.Module,
		Key:           t.Key,
		Version:       t.Version,
		Title:         t.Title,
		Description:   t.Description,
		Layout:        t.Layout,
		Parameters:    cloneParameters(t.Parameters),
		Columns:       cloneColumns(t.Columns),
		Metadata:      cloneMetadata(t.Metadata),
		OutputFormats: cloneFormats(t.OutputFormats),
		Slug:          studySlug(t.Module, t.Key, t.Version),
	}
}

// SupportsFormat reports whether the template declares the requested format.
func (t StudyTemplate) SupportsFormat(format StudyFormat) bool {
	if t.host != nil {
		return t.host.SupportsFormat(format)
	}
	for _, candidate := range t.OutputFormats {
		if candidate == format {
			return true
		}
	}
	return false
}

// ValidateParameters validates supplied parameters against the template definition.
func (t StudyTemplate) ValidateParameters(params map[string]any) (map[string]any, []StudyParameterError) {
	host, err := t.hostOrNew()
	if err != nil {
		return nil, []StudyParameterError{{Name: "", Message: err.Error()}}
	}
	return host.ValidateParameters(params)
}

// Run executes the template using the bound runner after validating parameters.
func (t StudyTemplate) Run(ctx context.Context, params map[string]any, scope StudyScope, format StudyFormat) (StudyRunResult, []StudyParameterError, error) {
	host, err := t.boundHost()
	if err != nil {
		return StudyRunResult{}, nil, err
	}
	return host.Run(ctx, params, scope, format)
}

// bind attaches a runtime runner using the provided environment.
func (t *StudyTemplate) bind(env StudyEnvironment) error {
	if t == nil {
		return errors.New("study template nil")
	}
	host, err := studyapi.NewHostTemplate(t.Module, t.Template)
	if err != nil {
		return err
	}
	if err := host.Bind(env); err != nil {
		return err
	}
	t.host = &host
	return nil
}

// validate ensures required fields are present and structurally sound.
func (t StudyTemplate) validate() error {
	_, err := studyapi.NewHostTemplate(t.Module, t.Template)
	return err
}

// slug returns the canonical identifier for the template.
func (t StudyTemplate) slug() string {
	return studySlug(t.Module, t.Key, t.Version)
}

func (t StudyTemplate) hostOrNew() (studyapi.HostTemplate, error) {
	if t.host != nil {
		return *t.host, nil
	}
	return studyapi.NewHostTemplate(t.Module, t.Template)
}

func (t StudyTemplate) boundHost() (*studyapi.HostTemplate, error) {
	if t.host == nil {
		return nil, errors.New("study template not bound")
	}
	return t.host, nil
}

func studySlug(module, key, version string) string {
	keyPart := strings.TrimSpace(key)
	versionPart := strings.TrimSpace(version)
	if module = strings.TrimSpace(module); module == "" {
		return fmt.Sprintf("%s@%s", keyPart, versionPart)
	}
	return fmt.Sprintf("%s/%s@%s", module, keyPart, versionPart)
}

func cloneParameters(params []StudyParameter) []StudyParameter {
	if len(params) == 0 {
		return nil
	}
	cloned := make([]StudyParameter, len(params))
	copy(cloned, params)
	for i := range cloned {
		if len(cloned[i].Enum) > 0 {
			cloned[i].Enum = append([]string(nil), cloned[i].Enum...)
		}
		if len(cloned[i].Example) > 0 {
			cloned[i].Example = append([]byte(nil), cloned[i].Example...)
		}
		if len(cloned[i].Default) > 0 {
			cloned[i].Default = append([]byte(nil), cloned[i].Default...)
		}
	}
	return cloned
}

func cloneColumns(columns []StudyColumn) []StudyColumn {
	if len(columns) == 0 {
		return nil
	}
	cloned := make([]StudyColumn, len(columns))
	copy(cloned, columns)
	return cloned
}

func cloneMetadata(metadata StudyTemplateMetadata) StudyTemplateMetadata {
	cloned := metadata
	if len(metadata.Tags) > 0 {
		cloned.Tags = append([]string(nil), metadata.Tags...)
	}
	if len(metadata.Annotations) > 0 {
		cloned.Annotations = make(map[string]string, len(metadata.Annotations))
		for k, v := range metadata.Annotations {
			cloned.Annotations[k] = v
		}
	}
	return cloned
}

func cloneFormats(formats []StudyFormat) []StudyFormat {
	if len(formats) == 0 {
		return nil
	}
	cloned := make([]StudyFormat, len(formats))
	copy(cloned, formats)
	return cloned
}

func cloneAPITemplate(t studyapi.Template) studyapi.Template {
	cloned := t
	cloned.Parameters = cloneParameters(t.Parameters)
	cloned.Columns = cloneColumns(t.Columns)
	cloned.Metadata = cloneMetadata(t.Metadata)
	cloned.OutputFormats = cloneFormats(t.OutputFormats)
	return cloned
}
