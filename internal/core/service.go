package core

import (
	"context"
	"fmt"
	"sort"

	"studycore/internal/sim"
	"studycore/pkg/studyapi"
)

// Service exposes higher-level transactional operations over studies and
// their generated runs. Every mutating operation runs inside a store
// transaction evaluated by the rules engine, and is instrumented through the
// configured audit, metrics and tracing hooks.
type Service struct {
	store     PersistentStore
	engine    *RulesEngine
	pipeline  *sim.Pipeline
	modules   map[string]ModuleMetadata
	templates map[string]StudyTemplate
	plans     map[string]Plan

	logger  Logger
	clock   Clock
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// Option customizes service construction.
type Option func(*Service)

// WithLogger attaches a logger receiving operation telemetry.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for audit timestamps and
// operation durations.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithAuditRecorder attaches a sink receiving one audit entry per operation.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder attaches a sink observing operation outcomes and durations.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer attaches a tracer opening one span per operation.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService constructs a service backed by the supplied store. The engine
// must be the same instance the store evaluates transactions with, so that
// rules contributed by installed modules take effect.
func NewService(store PersistentStore, engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewRulesEngine()
	}
	s := &Service{
		store:     store,
		engine:    engine,
		pipeline:  sim.NewPipeline(),
		modules:   make(map[string]ModuleMetadata),
		templates: make(map[string]StudyTemplate),
		plans:     make(map[string]Plan),
		logger:    noopLogger{},
		clock:     systemClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewRulesEngine()
	}
	return NewService(NewMemoryStore(engine), engine, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// RulesEngine returns the engine evaluating in-transaction rules.
func (s *Service) RulesEngine() *RulesEngine {
	return s.engine
}

// instrument wraps one service operation with tracing, metrics, audit and
// logging. The callback returns the id of the entity the operation settled
// on, which is unknown before creates complete.
func (s *Service) instrument(ctx context.Context, op string, entity EntityType, fn func(ctx context.Context) (string, error)) error {
	start := s.clock.Now()
	var span TraceSpan = nopSpan{}
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, op)
	}
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	if s.metrics != nil {
		s.metrics.Observe(ctx, op, err == nil, duration)
	}
	if s.audit != nil {
		entry := AuditEntry{
			Operation:  op,
			Status:     AuditStatusSuccess,
			Entity:     entity,
			EntityID:   entityID,
			Duration:   duration,
			OccurredAt: start,
		}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
		}
		s.audit.Record(ctx, entry)
	}
	if err != nil {
		s.logger.Error(op+" failed", "entity", string(entity), "entity_id", entityID, "error", err)
	} else {
		s.logger.Debug(op+" completed", "entity", string(entity), "entity_id", entityID, "duration_ms", duration.Milliseconds())
	}
	return err
}

// CreateStudy persists a new study. A non-empty generation plan is validated
// eagerly so invalid parameters surface at creation rather than on first run.
func (s *Service) CreateStudy(ctx context.Context, study Study) (Study, Result, error) {
	var created Study
	var res Result
	err := s.instrument(ctx, "create_study", EntityStudy, func(ctx context.Context) (string, error) {
		if len(study.Plan.Stages) > 0 {
			if err := study.Plan.Validate(); err != nil {
				return "", err
			}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateStudy(study)
			return txErr
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateStudy mutates a study using the provided mutator. The plan resulting
// from the mutation is validated under the same rule as CreateStudy.
func (s *Service) UpdateStudy(ctx context.Context, id string, mutator func(*Study) error) (Study, Result, error) {
	var updated Study
	var res Result
	err := s.instrument(ctx, "update_study", EntityStudy, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateStudy(id, func(study *Study) error {
				if err := mutator(study); err != nil {
					return err
				}
				if len(study.Plan.Stages) > 0 {
					return study.Plan.Validate()
				}
				return nil
			})
			return txErr
		})
		return id, err
	})
	return updated, res, err
}

// DeleteStudy removes a study record. Stores refuse deletion while runs
// still reference the study.
func (s *Service) DeleteStudy(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.instrument(ctx, "delete_study", EntityStudy, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteStudy(id)
		})
		return id, err
	})
	return res, err
}

// GetStudy fetches a study by id.
func (s *Service) GetStudy(id string) (Study, bool) {
	return s.store.GetStudy(id)
}

// FindStudyByCode fetches a study by its unique code.
func (s *Service) FindStudyByCode(code string) (Study, bool) {
	return s.store.FindStudyByCode(code)
}

// ListStudies returns all stored studies.
func (s *Service) ListStudies() []Study {
	return s.store.ListStudies()
}

// RunStudy executes every stage of the study's plan and persists the
// generated table as a new run.
func (s *Service) RunStudy(ctx context.Context, studyID string) (Run, Result, error) {
	var created Run
	var res Result
	err := s.instrument(ctx, "run_study", EntityRun, func(ctx context.Context) (string, error) {
		study, ok := s.store.GetStudy(studyID)
		if !ok {
			return "", ErrNotFound{Entity: EntityStudy, ID: studyID}
		}
		return s.executeStages(ctx, study, len(study.Plan.Stages), &created, &res)
	})
	return created, res, err
}

// RunStudyStages executes the first n stages of the study's plan and
// persists the prefix table. A prefix run shares every generated value with
// the corresponding rows of the full run.
func (s *Service) RunStudyStages(ctx context.Context, studyID string, n int) (Run, Result, error) {
	var created Run
	var res Result
	err := s.instrument(ctx, "run_study_stages", EntityRun, func(ctx context.Context) (string, error) {
		study, ok := s.store.GetStudy(studyID)
		if !ok {
			return "", ErrNotFound{Entity: EntityStudy, ID: studyID}
		}
		return s.executeStages(ctx, study, n, &created, &res)
	})
	return created, res, err
}

// executeStages generates the table outside the transaction, then persists
// the run inside one so rules see the finished artifact.
func (s *Service) executeStages(ctx context.Context, study Study, n int, created *Run, res *Result) (string, error) {
	table, err := s.pipeline.RunStages(study.Plan, n)
	if err != nil {
		return "", err
	}
	result, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var txErr error
		*created, txErr = tx.CreateRun(Run{
			StudyID:       study.ID,
			Seed:          study.Plan.Seed,
			StagesApplied: n,
			Observations:  table,
		})
		return txErr
	})
	*res = result
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// PreviewPlan generates the table a plan would produce without persisting
// anything. Preview output is identical to what RunStudy would store for an
// equal plan.
func (s *Service) PreviewPlan(ctx context.Context, plan Plan) (Table, error) {
	var table Table
	err := s.instrument(ctx, "preview_plan", EntityRun, func(context.Context) (string, error) {
		var err error
		table, err = s.pipeline.Run(plan)
		return "", err
	})
	return table, err
}

// AnnotateRun replaces the free-form note on a stored run. Generated
// observations are immutable; the note is the only field open to mutation.
func (s *Service) AnnotateRun(ctx context.Context, id, note string) (Run, Result, error) {
	var updated Run
	var res Result
	err := s.instrument(ctx, "annotate_run", EntityRun, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateRun(id, func(run *Run) error {
				run.Note = note
				return nil
			})
			return txErr
		})
		return id, err
	})
	return updated, res, err
}

// DeleteRun removes a stored run.
func (s *Service) DeleteRun(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.instrument(ctx, "delete_run", EntityRun, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteRun(id)
		})
		return id, err
	})
	return res, err
}

// GetRun fetches a run by id.
func (s *Service) GetRun(id string) (Run, bool) {
	return s.store.GetRun(id)
}

// ListRuns returns all stored runs.
func (s *Service) ListRuns() []Run {
	return s.store.ListRuns()
}

// ListRunsForStudy returns the runs generated for one study.
func (s *Service) ListRunsForStudy(studyID string) []Run {
	return s.store.ListRunsForStudy(studyID)
}

// InstallModule registers a module, wiring its rules into the active engine
// and binding its dataset templates against the service store. Installation
// is all-or-nothing: a module with an invalid template contributes nothing.
func (s *Service) InstallModule(module Module) (ModuleMetadata, error) {
	if module == nil {
		return ModuleMetadata{}, fmt.Errorf("module cannot be nil")
	}
	if _, ok := s.modules[module.Name()]; ok {
		return ModuleMetadata{}, fmt.Errorf("module %s already registered", module.Name())
	}

	registry := NewModuleRegistry()
	if err := module.Register(registry); err != nil {
		return ModuleMetadata{}, err
	}

	env := StudyEnvironment{Store: s.store, Now: s.clock.Now}
	bound := make(map[string]StudyTemplate, len(registry.templates))
	for _, template := range registry.StudyTemplates() {
		template.Module = module.Name()
		slug := template.slug()
		if _, exists := s.templates[slug]; exists {
			return ModuleMetadata{}, fmt.Errorf("study template %s already installed", slug)
		}
		if err := template.bind(env); err != nil {
			return ModuleMetadata{}, fmt.Errorf("bind template %s: %w", slug, err)
		}
		bound[slug] = template
	}
	plans := registry.DefaultPlans()
	for _, rule := range registry.Rules() {
		s.engine.Register(rule)
	}
	for slug, template := range bound {
		s.templates[slug] = template
	}
	meta := ModuleMetadata{
		Name:    module.Name(),
		Version: module.Version(),
	}
	for name, plan := range plans {
		key := module.Name() + "/" + name
		s.plans[key] = plan
		meta.Plans = append(meta.Plans, key)
	}
	sort.Strings(meta.Plans)
	for _, template := range bound {
		meta.Templates = append(meta.Templates, template.Descriptor())
	}
	studyapi.SortTemplateDescriptors(meta.Templates)

	s.modules[module.Name()] = meta
	s.logger.Info("module installed", "module", module.Name(), "version", module.Version(),
		"templates", len(meta.Templates), "plans", len(meta.Plans))
	return meta, nil
}

// RegisteredModules returns metadata describing installed modules.
func (s *Service) RegisteredModules() []ModuleMetadata {
	out := make([]ModuleMetadata, 0, len(s.modules))
	for _, meta := range s.modules {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultPlans returns installed module plans keyed by "module/name".
func (s *Service) DefaultPlans() map[string]Plan {
	out := make(map[string]Plan, len(s.plans))
	for key, plan := range s.plans {
		out[key] = plan.Clone()
	}
	return out
}

// ResolveDefaultPlan fetches one installed plan by its "module/name" key.
func (s *Service) ResolveDefaultPlan(key string) (Plan, bool) {
	plan, ok := s.plans[key]
	if !ok {
		return Plan{}, false
	}
	return plan.Clone(), true
}

// StudyTemplates returns descriptors for all installed dataset templates.
func (s *Service) StudyTemplates() []StudyTemplateDescriptor {
	out := make([]StudyTemplateDescriptor, 0, len(s.templates))
	for _, template := range s.templates {
		out = append(out, template.Descriptor())
	}
	studyapi.SortTemplateDescriptors(out)
	return out
}

// ResolveStudyTemplate resolves an installed template by its slug.
func (s *Service) ResolveStudyTemplate(slug string) (StudyTemplate, bool) {
	template, ok := s.templates[slug]
	return template, ok
}

// RunStudyTemplate executes an installed dataset template. Parameter
// rejections are reported alongside a nil error; they are a client outcome,
// not an operation failure.
func (s *Service) RunStudyTemplate(ctx context.Context, slug string, params map[string]any, scope StudyScope, format StudyFormat) (StudyRunResult, []StudyParameterError, error) {
	var result StudyRunResult
	var paramErrs []StudyParameterError
	err := s.instrument(ctx, "run_study_template", EntityRun, func(ctx context.Context) (string, error) {
		template, ok := s.templates[slug]
		if !ok {
			return "", fmt.Errorf("study template %s not installed", slug)
		}
		if !template.SupportsFormat(format) {
			return "", fmt.Errorf("study template %s does not support format %q", slug, format)
		}
		var err error
		result, paramErrs, err = template.Run(ctx, params, scope, format)
		return "", err
	})
	return result, paramErrs, err
}
