package core

import (
	"fmt"
	"sort"

	"studycore/pkg/domain"
	"studycore/pkg/studyapi"
)

// Module describes a study module that contributes rules, default plans and
// dataset templates.
type Module interface {
	Name() string
	Version() string
	Register(registry *ModuleRegistry) error
}

// ModuleRegistry accumulates module contributions during registration.
type ModuleRegistry struct {
	rules     []Rule
	plans     map[string]domain.Plan
	templates map[string]StudyTemplate
}

// NewModuleRegistry constructs a module registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		plans:     make(map[string]domain.Plan),
		templates: make(map[string]StudyTemplate),
	}
}

// RegisterRule adds an in-transaction rule contributed by the module.
func (r *ModuleRegistry) RegisterRule(rule Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterDefaultPlan stores a named generation plan contributed by the module.
// The plan is validated eagerly so a broken module fails at install time, not
// on first use.
func (r *ModuleRegistry) RegisterDefaultPlan(name string, plan domain.Plan) error {
	if name == "" {
		return fmt.Errorf("default plan requires a name")
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("default plan %s: %w", name, err)
	}
	if _, exists := r.plans[name]; exists {
		return fmt.Errorf("default plan %s already registered", name)
	}
	r.plans[name] = plan.Clone()
	return nil
}

// RegisterStudyTemplate stores a dataset template manifest contributed by the module.
func (r *ModuleRegistry) RegisterStudyTemplate(template StudyTemplate) error {
	if err := template.validate(); err != nil {
		return err
	}
	key := fmt.Sprintf("%s@%s", template.Key, template.Version)
	if _, exists := r.templates[key]; exists {
		return fmt.Errorf("study template %s already registered", key)
	}
	r.templates[key] = template
	return nil
}

// Rules returns a copy of registered rules.
func (r *ModuleRegistry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// DefaultPlans returns a copy of registered plans keyed by name.
func (r *ModuleRegistry) DefaultPlans() map[string]domain.Plan {
	out := make(map[string]domain.Plan, len(r.plans))
	for name, plan := range r.plans {
		out[name] = plan.Clone()
	}
	return out
}

// StudyTemplates returns registered templates sorted by key and version.
func (r *ModuleRegistry) StudyTemplates() []StudyTemplate {
	out := make([]StudyTemplate, 0, len(r.templates))
	for _, template := range r.templates {
		copy := template
		copy.Template = cloneAPITemplate(template.Template)
		out = append(out, copy)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key == out[j].Key {
			return out[i].Version < out[j].Version
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ModuleMetadata stores metadata describing an installed module.
type ModuleMetadata struct {
	Name      string
	Version   string
	Plans     []string
	Templates []studyapi.TemplateDescriptor
}
