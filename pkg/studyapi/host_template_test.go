package studyapi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type stringerValue struct{ value string }

func (s stringerValue) String() string { return s.value }

func TestNewHostTemplateAndRuntime(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tpl := Template{
		Key:         "demo",
		Version:     "1.0.0",
		Title:       "Demo",
		Description: "demo",
		Layout:      LayoutLong,
		Parameters: []Parameter{{
			Name:        "limit",
			Type:        "integer",
			Required:    true,
			Description: "limit results",
		}},
		Columns: []Column{{
			Name:        "value",
			Type:        "integer",
			Description: "value column",
		}},
		Metadata: Metadata{
			Source:          "tests",
			Documentation:   "docs",
			RefreshInterval: "PT1H",
			Tags:            []string{"tag"},
			Annotations:     map[string]string{"k": "v"},
		},
		OutputFormats: []Format{FormatJSON, FormatCSV},
	}

	tpl.Binder = func(env Environment) (Runner, error) {
		if env.Now == nil {
			t.Fatalf("expected now function")
		}
		return func(_ context.Context, req RunRequest) (RunResult, error) {
			if req.Template.Key != "demo" {
				t.Fatalf("unexpected template key: %s", req.Template.Key)
			}
			if req.Scope.Requestor != "analyst" {
				t.Fatalf("unexpected requestor: %s", req.Scope.Requestor)
			}
			return RunResult{
				Schema: []Column{{Name: "value", Type: "integer"}},
				Rows:   []Row{{"value": 7}},
				Metadata: map[string]any{
					"note": "ok",
				},
				GeneratedAt: env.Now(),
				Format:      FormatCSV,
			}, nil
		}, nil
	}

	host, err := NewHostTemplate("hunger", tpl)
	if err != nil {
		t.Fatalf("NewHostTemplate: %v", err)
	}
	if host.Slug() != "hunger/demo@1.0.0" {
		t.Fatalf("unexpected slug: %s", host.Slug())
	}
	if !host.SupportsFormat(FormatJSON) || host.SupportsFormat(Format("png")) {
		t.Fatalf("unexpected format support")
	}

	env := Environment{Now: func() time.Time { return now }}
	if err := host.Bind(env); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	params, errs := host.ValidateParameters(map[string]any{"limit": 5})
	if len(errs) != 0 {
		t.Fatalf("unexpected validation errors: %+v", errs)
	}
	if params["limit"].(int) != 5 {
		t.Fatalf("expected cleaned parameters to retain value")
	}

	scope := Scope{Requestor: "analyst", StudyIDs: []string{"study"}}
	result, paramErrs, err := host.Run(context.Background(), map[string]any{"limit": 5}, scope, FormatJSON)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(paramErrs) != 0 {
		t.Fatalf("unexpected parameter errors: %+v", paramErrs)
	}
	if result.Format != FormatJSON {
		t.Fatalf("expected JSON format, got %s", result.Format)
	}
	if len(result.Rows) != 1 || result.Rows[0]["value"].(int) != 7 {
		t.Fatalf("unexpected rows: %+v", result.Rows)
	}
	if result.GeneratedAt != now {
		t.Fatalf("expected generated timestamp %v, got %v", now, result.GeneratedAt)
	}

	descriptor := host.Descriptor()
	if descriptor.Slug != "hunger/demo@1.0.0" || descriptor.Layout != LayoutLong {
		t.Fatalf("unexpected descriptor: %+v", descriptor)
	}
}

func TestNewHostTemplateValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Template)
	}{
		{"missing key", func(t *Template) { t.Key = "" }},
		{"missing version", func(t *Template) { t.Version = "" }},
		{"missing title", func(t *Template) { t.Title = "" }},
		{"missing columns", func(t *Template) { t.Columns = nil }},
		{"missing formats", func(t *Template) { t.OutputFormats = nil }},
		{"unknown format", func(t *Template) { t.OutputFormats = []Format{Format("parquet")} }},
		{"missing binder", func(t *Template) { t.Binder = nil }},
		{"unsupported layout", func(t *Template) { t.Layout = Layout("sql") }},
	}

	base := Template{
		Key:           "k",
		Version:       "1",
		Title:         "t",
		Layout:        LayoutLong,
		Columns:       []Column{{Name: "c", Type: "string"}},
		OutputFormats: []Format{FormatJSON},
		Binder:        func(Environment) (Runner, error) { return nil, nil },
	}

	for _, tc := range cases {
		tpl := base
		tc.mut(&tpl)
		if _, err := NewHostTemplate("hunger", tpl); err == nil {
			t.Fatalf("expected validation failure for %s", tc.name)
		}
	}
}

func TestHostTemplateBindErrors(t *testing.T) {
	tpl := Template{
		Key:           "k",
		Version:       "1",
		Title:         "t",
		Layout:        LayoutLong,
		Columns:       []Column{{Name: "c", Type: "string"}},
		OutputFormats: []Format{FormatJSON},
		Binder:        func(Environment) (Runner, error) { return nil, nil },
	}
	host, err := NewHostTemplate("module", tpl)
	if err != nil {
		t.Fatalf("NewHostTemplate: %v", err)
	}
	if err := host.Bind(Environment{}); err == nil {
		t.Fatalf("expected bind error for nil runner")
	}

	tpl.Binder = func(Environment) (Runner, error) { return nil, errors.New("fail") }
	host, err = NewHostTemplate("module", tpl)
	if err != nil {
		t.Fatalf("NewHostTemplate: %v", err)
	}
	if err := host.Bind(Environment{}); err == nil || !strings.Contains(err.Error(), "fail") {
		t.Fatalf("expected binder failure, got %v", err)
	}
}

func TestValidateParametersErrors(t *testing.T) {
	tpl := Template{
		Key:           "k",
		Version:       "1",
		Title:         "t",
		Layout:        LayoutLong,
		Columns:       []Column{{Name: "c", Type: "string"}},
		OutputFormats: []Format{FormatJSON},
		Parameters: []Parameter{
			{Name: "layout", Type: "string", Enum: []string{"long", "wide"}},
			{Name: "limit", Type: "integer", Required: true},
			{Name: "flag", Type: "boolean"},
			{Name: "when", Type: "timestamp"},
			{Name: "mode", Type: "string", Default: json.RawMessage(`"auto"`)},
			{Name: "alias", Type: "string"},
		},
		Binder: func(Environment) (Runner, error) {
			return func(context.Context, RunRequest) (RunResult, error) { return RunResult{}, nil }, nil
		},
	}
	host, err := NewHostTemplate("module", tpl)
	if err != nil {
		t.Fatalf("NewHostTemplate: %v", err)
	}

	scope := Scope{Requestor: "user"}
	params := map[string]any{
		"layout": "long",
		"limit":  "42",
		"flag":   "true",
		"when":   time.Now().UTC().Format(time.RFC3339),
		"alias":  stringerValue{value: "stringer"},
	}
	cleaned, errs := host.ValidateParameters(params)
	if len(errs) != 0 {
		t.Fatalf("expected successful validation, got %+v", errs)
	}
	if _, ok := cleaned["limit"].(int); !ok {
		t.Fatalf("expected integer coercion, got %#v", cleaned["limit"])
	}
	if _, ok := cleaned["flag"].(bool); !ok {
		t.Fatalf("expected boolean coercion")
	}
	if ts, ok := cleaned["when"].(time.Time); !ok || ts.IsZero() {
		t.Fatalf("expected timestamp coercion")
	}
	if cleaned["mode"].(string) != "auto" {
		t.Fatalf("expected default parameter value")
	}
	if cleaned["alias"].(string) != "stringer" {
		t.Fatalf("expected stringer coercion to string")
	}

	_, paramErrs := host.ValidateParameters(map[string]any{"layout": "diagonal", "limit": 1})
	if len(paramErrs) == 0 || !strings.Contains(paramErrs[0].Message, "value must be one of") {
		t.Fatalf("expected enum validation error, got %+v", paramErrs)
	}
	_, leftovers := host.ValidateParameters(map[string]any{"layout": "long", "limit": 1, "mystery": 1})
	if len(leftovers) == 0 || leftovers[len(leftovers)-1].Name != "mystery" {
		t.Fatalf("expected leftover parameter error, got %+v", leftovers)
	}
	_, missing := host.ValidateParameters(nil)
	if len(missing) != 1 || missing[0].Name != "limit" {
		t.Fatalf("expected required parameter error, got %+v", missing)
	}

	// Exercise run to ensure cleaned parameters accepted.
	host.runtime = func(context.Context, RunRequest) (RunResult, error) {
		return RunResult{Format: FormatJSON}, nil
	}
	if _, _, err := host.Run(context.Background(), cleaned, scope, FormatJSON); err != nil {
		t.Fatalf("run with cleaned params failed: %v", err)
	}
}

func TestSortTemplateDescriptors(t *testing.T) {
	descriptors := []TemplateDescriptor{
		{Module: "b", Key: "alpha", Version: "2"},
		{Module: "a", Key: "beta", Version: "1"},
		{Module: "a", Key: "alpha", Version: "2"},
		{Module: "a", Key: "alpha", Version: "1"},
	}
	SortTemplateDescriptors(descriptors)
	expected := []TemplateDescriptor{
		{Module: "a", Key: "alpha", Version: "1"},
		{Module: "a", Key: "alpha", Version: "2"},
		{Module: "a", Key: "beta", Version: "1"},
		{Module: "b", Key: "alpha", Version: "2"},
	}
	for i, want := range expected {
		got := descriptors[i]
		if got.Module != want.Module || got.Key != want.Key || got.Version != want.Version {
			t.Fatalf("unexpected ordering at %d: %+v (want %+v)", i, got, want)
		}
	}
}

func TestSlugAndCloneHelpers(t *testing.T) {
	if slug := slugFor("", "key", "v1"); slug != "key@v1" {
		t.Fatalf("unexpected slug %s", slug)
	}
	if slug := slugFor("module", "key", "v1"); slug != "module/key@v1" {
		t.Fatalf("unexpected slug with module: %s", slug)
	}

	tpl := Template{
		Key:           "clone",
		Version:       "1",
		Title:         "Clone",
		Layout:        LayoutLong,
		Parameters:    []Parameter{{Name: "enum", Type: "string", Enum: []string{"a"}, Default: json.RawMessage(`"a"`)}},
		Columns:       []Column{{Name: "c", Type: "string"}},
		Metadata:      Metadata{Tags: []string{"t"}, Annotations: map[string]string{"k": "v"}},
		OutputFormats: []Format{FormatJSON},
	}
	clone := cloneTemplate(tpl)
	clone.Parameters[0].Enum[0] = "mutated"
	clone.Parameters[0].Default[0] = 'X'
	clone.Metadata.Tags[0] = "mutated"
	if tpl.Parameters[0].Enum[0] != "a" || string(tpl.Parameters[0].Default) != `"a"` || tpl.Metadata.Tags[0] != "t" {
		t.Fatalf("expected clone to be defensive")
	}

	scope := Scope{Requestor: "user", Roles: []string{"role"}, StudyIDs: []string{"study"}}
	clonedScope := cloneScope(scope)
	clonedScope.Roles[0] = "changed"
	if scope.Roles[0] != "role" {
		t.Fatalf("expected scope clone independence")
	}

	if v, err := coerceParameter(Parameter{Name: "num", Type: "number"}, "3.14"); err != nil || v.(float64) != 3.14 {
		t.Fatalf("expected numeric coercion, got %v (%v)", v, err)
	}
	if v, err := coerceParameter(Parameter{Name: "flag", Type: "boolean"}, json.RawMessage([]byte(`"true"`))); err == nil {
		t.Fatalf("expected boolean coercion error for JSON raw message, got %v", v)
	}
	if !containsString([]string{"a", "b"}, "b") {
		t.Fatalf("containsString should find element")
	}
	if err := enumError([]string{"x"}); err == nil {
		t.Fatalf("expected enum error")
	}
}

func TestHostTemplateAccessors(t *testing.T) {
	tpl := Template{
		Key:           "key",
		Version:       "1",
		Title:         "title",
		Layout:        LayoutWide,
		Columns:       []Column{{Name: "c", Type: "string"}},
		OutputFormats: []Format{FormatJSON},
		Binder: func(Environment) (Runner, error) {
			return func(context.Context, RunRequest) (RunResult, error) { return RunResult{}, nil }, nil
		},
	}
	host, err := NewHostTemplate("hunger", tpl)
	if err != nil {
		t.Fatalf("NewHostTemplate: %v", err)
	}
	if host.Module() != "hunger" {
		t.Fatalf("unexpected module accessor")
	}
	copied := host.Template()
	copied.Key = "mutated"
	if host.Template().Key != "key" {
		t.Fatalf("expected Template accessor to return copy")
	}
}

func TestHostTemplateRunRequiresBind(t *testing.T) {
	tpl := Template{
		Key:           "k",
		Version:       "1",
		Title:         "t",
		Layout:        LayoutLong,
		Columns:       []Column{{Name: "c", Type: "string"}},
		OutputFormats: []Format{FormatJSON},
		Parameters:    []Parameter{{Name: "p", Type: "string"}},
		Binder: func(Environment) (Runner, error) {
			return func(context.Context, RunRequest) (RunResult, error) { return RunResult{}, nil }, nil
		},
	}
	host, err := NewHostTemplate("module", tpl)
	if err != nil {
		t.Fatalf("NewHostTemplate: %v", err)
	}
	if _, _, err := host.Run(context.Background(), nil, Scope{}, FormatJSON); err == nil {
		t.Fatalf("expected run to fail when not bound")
	}
}

func TestCoerceParameterErrorBranches(t *testing.T) {
	if _, err := coerceParameter(Parameter{Name: "layout", Type: "string", Enum: []string{"ok"}}, 10); err == nil {
		t.Fatalf("expected string type error")
	}
	if _, err := coerceParameter(Parameter{Name: "limit", Type: "integer"}, "abc"); err == nil {
		t.Fatalf("expected integer parse error")
	}
	if _, err := coerceParameter(Parameter{Name: "limit", Type: "integer"}, 1.5); err == nil {
		t.Fatalf("expected fractional integer error")
	}
	if _, err := coerceParameter(Parameter{Name: "num", Type: "number"}, true); err == nil {
		t.Fatalf("expected number parse error")
	}
	if _, err := coerceParameter(Parameter{Name: "flag", Type: "boolean"}, 123); err == nil {
		t.Fatalf("expected boolean parse error")
	}
	if _, err := coerceParameter(Parameter{Name: "when", Type: "timestamp"}, "not-a-time"); err == nil {
		t.Fatalf("expected timestamp parse error")
	}
	if _, err := coerceParameter(Parameter{Name: "unknown", Type: "mystery"}, "val"); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if _, err := coerceParameter(Parameter{Name: "nil", Type: "string"}, nil); err == nil {
		t.Fatalf("expected null value error")
	}
}

func TestCoerceParameterSuccessBranches(t *testing.T) {
	if v, err := coerceParameter(Parameter{Name: "layout", Type: "string", Enum: []string{"ok"}}, stringerValue{value: "ok"}); err != nil || v.(string) != "ok" {
		t.Fatalf("expected string success, got %v (%v)", v, err)
	}
	if v, err := coerceParameter(Parameter{Name: "limit", Type: "integer"}, float64(5)); err != nil || v.(int) != 5 {
		t.Fatalf("expected integer success, got %v (%v)", v, err)
	}
	if v, err := coerceParameter(Parameter{Name: "num", Type: "number"}, 7); err != nil || v.(float64) != 7 {
		t.Fatalf("expected number success, got %v (%v)", v, err)
	}
	if v, err := coerceParameter(Parameter{Name: "flag", Type: "boolean"}, "false"); err != nil || v.(bool) != false {
		t.Fatalf("expected boolean success, got %v (%v)", v, err)
	}
	if v, err := coerceParameter(Parameter{Name: "when", Type: "timestamp"}, time.Now().UTC()); err != nil {
		t.Fatalf("expected timestamp success, got %v", err)
	} else if _, ok := v.(time.Time); !ok {
		t.Fatalf("expected timestamp coercion result")
	}
}

func TestCoerceDefaultParameter(t *testing.T) {
	if _, err := coerceDefaultParameter(Parameter{Name: "bad", Type: "string", Default: json.RawMessage(`{`)}); err == nil {
		t.Fatalf("expected invalid JSON default error")
	}
	v, err := coerceDefaultParameter(Parameter{Name: "n", Type: "integer", Default: json.RawMessage(`12`)})
	if err != nil || v.(int) != 12 {
		t.Fatalf("expected integer default, got %v (%v)", v, err)
	}
}
