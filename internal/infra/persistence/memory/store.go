// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"studycore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Study aliases domain.Study for in-memory persistence operations.
	Study = domain.Study
	// Run aliases domain.Run.
	Run = domain.Run
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	studies map[string]Study
	runs    map[string]Run
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Studies map[string]Study `json:"studies"`
	Runs    map[string]Run   `json:"runs"`
}

func newMemoryState() memoryState {
	return memoryState{
		studies: make(map[string]Study),
		runs:    make(map[string]Run),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Studies: make(map[string]Study, len(state.studies)),
		Runs:    make(map[string]Run, len(state.runs)),
	}
	for k, v := range state.studies {
		s.Studies[k] = v.Clone()
	}
	for k, v := range state.runs {
		s.Runs[k] = v.Clone()
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Studies {
		state.studies[k] = v.Clone()
	}
	for k, v := range s.Runs {
		state.runs[k] = v.Clone()
	}
	return state
}

// migrateSnapshot normalizes snapshots captured by older store versions:
// missing maps are initialized and runs referencing absent studies are
// dropped so imported state always satisfies referential integrity.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Studies == nil {
		snapshot.Studies = map[string]Study{}
	}
	if snapshot.Runs == nil {
		snapshot.Runs = map[string]Run{}
	}
	for id, run := range snapshot.Runs {
		if run.StudyID == "" {
			delete(snapshot.Runs, id)
			continue
		}
		if _, ok := snapshot.Studies[run.StudyID]; !ok {
			delete(snapshot.Runs, id)
			continue
		}
		if run.StagesApplied < 0 {
			run.StagesApplied = 0
		}
		snapshot.Runs[id] = run
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.studies {
		cloned.studies[k] = v.Clone()
	}
	for k, v := range s.runs {
		cloned.runs[k] = v.Clone()
	}
	return cloned
}

func sortStudies(studies []Study) {
	sort.Slice(studies, func(i, j int) bool {
		if studies[i].CreatedAt.Equal(studies[j].CreatedAt) {
			return studies[i].Code < studies[j].Code
		}
		return studies[i].CreatedAt.Before(studies[j].CreatedAt)
	})
}

func sortRuns(runs []Run) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine for integration points like modules.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListStudies returns all studies within the transaction snapshot.
func (v transactionView) ListStudies() []Study {
	out := make([]Study, 0, len(v.state.studies))
	for _, study := range v.state.studies {
		out = append(out, study.Clone())
	}
	sortStudies(out)
	return out
}

// ListRuns returns all runs within the transaction snapshot.
func (v transactionView) ListRuns() []Run {
	out := make([]Run, 0, len(v.state.runs))
	for _, run := range v.state.runs {
		out = append(out, run.Clone())
	}
	sortRuns(out)
	return out
}

// FindStudy retrieves a study by ID from the snapshot.
func (v transactionView) FindStudy(id string) (Study, bool) {
	study, ok := v.state.studies[id]
	if !ok {
		return Study{}, false
	}
	return study.Clone(), true
}

// FindRun retrieves a run by ID from the snapshot.
func (v transactionView) FindRun(id string) (Run, bool) {
	run, ok := v.state.runs[id]
	if !ok {
		return Run{}, false
	}
	return run.Clone(), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindStudy exposes study lookup within the transaction scope.
func (tx *transaction) FindStudy(id string) (Study, bool) {
	study, ok := tx.state.studies[id]
	if !ok {
		return Study{}, false
	}
	return study.Clone(), true
}

// FindRun exposes run lookup within the transaction scope.
func (tx *transaction) FindRun(id string) (Run, bool) {
	run, ok := tx.state.runs[id]
	if !ok {
		return Run{}, false
	}
	return run.Clone(), true
}

func (tx *transaction) studyCodeTaken(code, excludeID string) (string, bool) {
	for id, study := range tx.state.studies {
		if id != excludeID && study.Code == code {
			return id, true
		}
	}
	return "", false
}

// CreateStudy stores a new study record. Codes are a caller-facing business
// key and must be unique across the store.
func (tx *transaction) CreateStudy(study Study) (Study, error) {
	if study.ID == "" {
		study.ID = tx.store.newID()
	}
	if _, exists := tx.state.studies[study.ID]; exists {
		return Study{}, fmt.Errorf("study %q already exists", study.ID)
	}
	if study.Code == "" {
		return Study{}, errors.New("study requires code")
	}
	if other, taken := tx.studyCodeTaken(study.Code, study.ID); taken {
		return Study{}, fmt.Errorf("study code %q already used by %q", study.Code, other)
	}
	study.CreatedAt = tx.now
	study.UpdatedAt = tx.now
	tx.state.studies[study.ID] = study.Clone()
	tx.recordChange(Change{Entity: domain.EntityStudy, Action: domain.ActionCreate, After: study.Clone()})
	return study.Clone(), nil
}

// UpdateStudy mutates an existing study using the provided mutator function.
func (tx *transaction) UpdateStudy(id string, mutator func(*Study) error) (Study, error) {
	current, ok := tx.state.studies[id]
	if !ok {
		return Study{}, fmt.Errorf("study %q not found", id)
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Study{}, err
	}
	if current.Code == "" {
		return Study{}, errors.New("study requires code")
	}
	if other, taken := tx.studyCodeTaken(current.Code, id); taken {
		return Study{}, fmt.Errorf("study code %q already used by %q", current.Code, other)
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.studies[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityStudy, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteStudy removes a study from the transaction state. Deletion is
// refused while stored runs still reference the study.
func (tx *transaction) DeleteStudy(id string) error {
	current, ok := tx.state.studies[id]
	if !ok {
		return fmt.Errorf("study %q not found", id)
	}
	for _, run := range tx.state.runs {
		if run.StudyID == id {
			return fmt.Errorf("study %q still referenced by run %q", id, run.ID)
		}
	}
	delete(tx.state.studies, id)
	tx.recordChange(Change{Entity: domain.EntityStudy, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// CreateRun stores a generated run. The referenced study must exist within
// the same transactional state.
func (tx *transaction) CreateRun(run Run) (Run, error) {
	if run.ID == "" {
		run.ID = tx.store.newID()
	}
	if _, exists := tx.state.runs[run.ID]; exists {
		return Run{}, fmt.Errorf("run %q already exists", run.ID)
	}
	if run.StudyID == "" {
		return Run{}, errors.New("run requires study id")
	}
	if _, ok := tx.state.studies[run.StudyID]; !ok {
		return Run{}, fmt.Errorf("study %q not found for run", run.StudyID)
	}
	if run.StagesApplied < 0 {
		return Run{}, fmt.Errorf("run stages applied %d is negative", run.StagesApplied)
	}
	run.CreatedAt = tx.now
	run.UpdatedAt = tx.now
	tx.state.runs[run.ID] = run.Clone()
	tx.recordChange(Change{Entity: domain.EntityRun, Action: domain.ActionCreate, After: run.Clone()})
	return run.Clone(), nil
}

// UpdateRun mutates an existing run using the provided mutator function.
func (tx *transaction) UpdateRun(id string, mutator func(*Run) error) (Run, error) {
	current, ok := tx.state.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("run %q not found", id)
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Run{}, err
	}
	if current.StudyID == "" {
		return Run{}, errors.New("run requires study id")
	}
	if _, ok := tx.state.studies[current.StudyID]; !ok {
		return Run{}, fmt.Errorf("study %q not found for run", current.StudyID)
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.runs[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityRun, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteRun removes a run from the transaction state.
func (tx *transaction) DeleteRun(id string) error {
	current, ok := tx.state.runs[id]
	if !ok {
		return fmt.Errorf("run %q not found", id)
	}
	delete(tx.state.runs, id)
	tx.recordChange(Change{Entity: domain.EntityRun, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// GetStudy retrieves a study by ID.
func (s *Store) GetStudy(id string) (Study, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	study, ok := s.state.studies[id]
	if !ok {
		return Study{}, false
	}
	return study.Clone(), true
}

// FindStudyByCode retrieves a study by its unique code.
func (s *Store) FindStudyByCode(code string) (Study, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, study := range s.state.studies {
		if study.Code == code {
			return study.Clone(), true
		}
	}
	return Study{}, false
}

// ListStudies returns all studies ordered by creation time.
func (s *Store) ListStudies() []Study {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Study, 0, len(s.state.studies))
	for _, study := range s.state.studies {
		out = append(out, study.Clone())
	}
	sortStudies(out)
	return out
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.state.runs[id]
	if !ok {
		return Run{}, false
	}
	return run.Clone(), true
}

// ListRuns returns all runs ordered by creation time.
func (s *Store) ListRuns() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.state.runs))
	for _, run := range s.state.runs {
		out = append(out, run.Clone())
	}
	sortRuns(out)
	return out
}

// ListRunsForStudy returns the runs generated for one study ordered by creation time.
func (s *Store) ListRunsForStudy(studyID string) []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Run
	for _, run := range s.state.runs {
		if run.StudyID == studyID {
			out = append(out, run.Clone())
		}
	}
	sortRuns(out)
	return out
}
