// Package memory provides an in-memory implementation of the annotation
// persistence store used for tests and ephemeral environments.
package memory

import (
	"annotcore/pkg/domain"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Annotation aliases domain.Annotation for in-memory persistence operations.
	Annotation = domain.Annotation
	// NipsaUser aliases domain.NipsaUser.
	NipsaUser = domain.NipsaUser
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
	annotations map[string]Annotation
	nipsa       map[string]NipsaUser
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Annotations map[string]Annotation `json:"annotations"`
	NipsaUsers  map[string]NipsaUser  `json:"nipsa_users"`
}

func newMemoryState() memoryState {
	return memoryState{
		annotations: make(map[string]Annotation),
		nipsa:       make(map[string]NipsaUser),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.annotations {
		cloned.annotations[k] = v.Clone()
	}
	for k, v := range s.nipsa {
		cloned.nipsa[k] = v
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Annotations: make(map[string]Annotation, len(state.annotations)),
		NipsaUsers:  make(map[string]NipsaUser, len(state.nipsa)),
	}
	for k, v := range state.annotations {
		s.Annotations[k] = v.Clone()
	}
	for k, v := range state.nipsa {
		s.NipsaUsers[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Annotations {
		state.annotations[k] = v.Clone()
	}
	for k, v := range s.NipsaUsers {
		state.nipsa[k] = v
	}
	return state
}

// migrateSnapshot normalises snapshots loaded from durable backends: nil maps
// become empty, entries keyed under the wrong id are re-keyed, and records
// without an id are dropped.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Annotations == nil {
		snapshot.Annotations = map[string]Annotation{}
	}
	if snapshot.NipsaUsers == nil {
		snapshot.NipsaUsers = map[string]NipsaUser{}
	}
	for key, annotation := range snapshot.Annotations {
		if annotation.ID == "" {
			delete(snapshot.Annotations, key)
			continue
		}
		if annotation.ID != key {
			delete(snapshot.Annotations, key)
			snapshot.Annotations[annotation.ID] = annotation
		}
	}
	for key, user := range snapshot.NipsaUsers {
		if user.UserID == "" {
			delete(snapshot.NipsaUsers, key)
			continue
		}
		if user.UserID != key {
			delete(snapshot.NipsaUsers, key)
			snapshot.NipsaUsers[user.UserID] = user
		}
	}
	return snapshot
}

// Store provides an in-memory transactional store for the annotation domain.
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
	return uuid.NewString()
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

// RulesEngine exposes the currently configured engine for integration points like plugins.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListAnnotations returns all annotations within the snapshot, ordered by id.
func (v transactionView) ListAnnotations() []Annotation {
	out := make([]Annotation, 0, len(v.state.annotations))
	for _, a := range v.state.annotations {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindAnnotation retrieves an annotation by id from the snapshot.
func (v transactionView) FindAnnotation(id string) (Annotation, bool) {
	a, ok := v.state.annotations[id]
	if !ok {
		return Annotation{}, false
	}
	return a.Clone(), true
}

// ListFlaggedUsers returns the moderation list, ordered by user id.
func (v transactionView) ListFlaggedUsers() []NipsaUser {
	out := make([]NipsaUser, 0, len(v.state.nipsa))
	for _, u := range v.state.nipsa {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// IsFlagged reports whether the user is on the moderation list.
func (v transactionView) IsFlagged(userID string) bool {
	_, ok := v.state.nipsa[userID]
	return ok
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

// CreateAnnotation stores a new annotation within the transaction.
func (tx *transaction) CreateAnnotation(a Annotation) (Annotation, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.annotations[a.ID]; exists {
		return Annotation{}, fmt.Errorf("annotation %q already exists", a.ID)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = tx.now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = tx.now
	}
	tx.state.annotations[a.ID] = a.Clone()
	tx.recordChange(Change{Entity: domain.EntityAnnotation, Action: domain.ActionCreate, After: a.Clone()})
	return a.Clone(), nil
}

// UpdateAnnotation mutates an annotation using the provided mutator function.
func (tx *transaction) UpdateAnnotation(id string, mutator func(*Annotation) error) (Annotation, error) {
	current, ok := tx.state.annotations[id]
	if !ok {
		return Annotation{}, fmt.Errorf("annotation %q not found", id)
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Annotation{}, err
	}
	current.ID = id
	if current.UpdatedAt.Equal(before.UpdatedAt) {
		current.UpdatedAt = tx.now
	}
	tx.state.annotations[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityAnnotation, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteAnnotation removes an annotation from the transaction state.
func (tx *transaction) DeleteAnnotation(id string) error {
	current, ok := tx.state.annotations[id]
	if !ok {
		return fmt.Errorf("annotation %q not found", id)
	}
	delete(tx.state.annotations, id)
	tx.recordChange(Change{Entity: domain.EntityAnnotation, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// FindAnnotation exposes annotation lookup within the transaction scope.
func (tx *transaction) FindAnnotation(id string) (Annotation, bool) {
	a, ok := tx.state.annotations[id]
	if !ok {
		return Annotation{}, false
	}
	return a.Clone(), true
}

// FlagUser places a user on the moderation list. Flagging an already-flagged
// user returns the existing entry.
func (tx *transaction) FlagUser(userID string) (NipsaUser, error) {
	if userID == "" {
		return NipsaUser{}, fmt.Errorf("user id cannot be empty")
	}
	if existing, ok := tx.state.nipsa[userID]; ok {
		return existing, nil
	}
	user := NipsaUser{UserID: userID, FlaggedAt: tx.now}
	tx.state.nipsa[userID] = user
	tx.recordChange(Change{Entity: domain.EntityNipsaUser, Action: domain.ActionCreate, After: user})
	return user, nil
}

// UnflagUser removes a user from the moderation list. Removing an absent user
// is a no-op.
func (tx *transaction) UnflagUser(userID string) error {
	current, ok := tx.state.nipsa[userID]
	if !ok {
		return nil
	}
	delete(tx.state.nipsa, userID)
	tx.recordChange(Change{Entity: domain.EntityNipsaUser, Action: domain.ActionDelete, Before: current})
	return nil
}

// IsFlagged reports whether the user is on the moderation list within the transaction.
func (tx *transaction) IsFlagged(userID string) bool {
	_, ok := tx.state.nipsa[userID]
	return ok
}

// Read helpers ---------------------------------------------------------------

// GetAnnotation retrieves an annotation by id from committed state.
func (s *Store) GetAnnotation(id string) (Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.annotations[id]
	if !ok {
		return Annotation{}, false
	}
	return a.Clone(), true
}

// ListAnnotations returns all annotations from committed state, ordered by id.
func (s *Store) ListAnnotations() []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Annotation, 0, len(s.state.annotations))
	for _, a := range s.state.annotations {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAnnotationsByUser returns the user's annotations, ordered by id.
func (s *Store) ListAnnotationsByUser(userID string) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Annotation
	for _, a := range s.state.annotations {
		if a.User == userID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListFlaggedUsers returns the moderation list from committed state.
func (s *Store) ListFlaggedUsers() []NipsaUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NipsaUser, 0, len(s.state.nipsa))
	for _, u := range s.state.nipsa {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// IsFlagged reports whether the user is on the moderation list in committed state.
func (s *Store) IsFlagged(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.nipsa[userID]
	return ok
}
