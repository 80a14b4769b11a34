package core

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"annotcore/internal/events"
	"annotcore/internal/search"
	"annotcore/pkg/domain"

	"go.uber.org/zap"
)

// Identity describes the authenticated principal performing an operation. A
// zero Identity is an anonymous request.
type Identity struct {
	User     string
	Consumer string
}

// Authenticated reports whether the identity carries a user.
func (i Identity) Authenticated() bool { return i.User != "" }

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// ServiceOption customises service construction.
type ServiceOption func(*Service)

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder wires a metrics sink into the service.
func WithMetricsRecorder(metrics MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithTracer wires a tracer into the service.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithIndex wires a search index. Without one the service falls back to an
// in-process index.
func WithIndex(index search.Index) ServiceOption {
	return func(s *Service) {
		if index != nil {
			s.index = index
		}
	}
}

// WithEventBus wires an event bus for annotation lifecycle events.
func WithEventBus(bus events.Bus) ServiceOption {
	return func(s *Service) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// Service exposes the transactional annotation operations of the host: CRUD
// with permission enforcement, search, moderation flags and plugin
// installation.
type Service struct {
	store   domain.PersistentStore
	engine  *RulesEngine
	index   search.Index
	bus     events.Bus
	metrics MetricsRecorder
	tracer  Tracer
	logger  *zap.Logger
	clock   Clock

	plugins  map[string]PluginMetadata
	creators []SelectorCreator
}

// NewService constructs a service backed by the supplied store and rules
// engine.
func NewService(store domain.PersistentStore, engine *RulesEngine, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		engine:  engine,
		index:   search.NewMemoryIndex(),
		bus:     events.NopBus{},
		metrics: NopMetrics{},
		tracer:  NopTracer{},
		logger:  zap.NewNop(),
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		plugins: make(map[string]PluginMetadata),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying persistence implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Index returns the search index in use.
func (s *Service) Index() search.Index { return s.index }

// instrument opens a trace span and returns a completion callback feeding
// both the span and the metrics recorder.
func (s *Service) instrument(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, operation)
	start := time.Now()
	return ctx, func(err error) {
		span.End(err)
		s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	}
}

// ErrNotFound is returned when a referenced entity does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrPermission is returned when the identity lacks the permission an
// operation requires. Reason is safe to surface to API clients.
type ErrPermission struct {
	Reason string
}

func (e ErrPermission) Error() string { return e.Reason }

// Permission failure reasons surfaced through the API.
const (
	reasonCreate      = "Not authorized to create annotations."
	reasonRead        = "Not authorized to read this annotation."
	reasonUpdate      = "Not authorized to update this annotation."
	reasonDelete      = "Not authorized to delete this annotation."
	reasonPermissions = "Not authorized to change annotation permissions."
)

// InstallPlugin registers a plugin, wiring its selector creators into the
// annotation-creation path and its rules into the active engine. Creators are
// retained in registration order.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	if s.plugins == nil {
		s.plugins = make(map[string]PluginMetadata)
	}
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}

	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, err
	}

	meta := PluginMetadata{Name: plugin.Name(), Version: plugin.Version()}
	for _, creator := range registry.SelectorCreators() {
		s.creators = append(s.creators, creator)
		meta.Selectors = append(meta.Selectors, creator.Name)
	}
	for _, rule := range registry.Rules() {
		if s.engine != nil {
			s.engine.Register(rule)
		}
		meta.Rules = append(meta.Rules, rule.Name())
	}
	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin installed",
		zap.String("plugin", meta.Name),
		zap.String("version", meta.Version),
		zap.Strings("selectors", meta.Selectors))
	return meta, nil
}

// RegisteredPlugins returns metadata describing installed plugins, sorted by
// name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ComposeSelectors runs every registered selector creator, in registration
// order, against the annotation and target, concatenating their output. Any
// creator failure aborts composition.
func (s *Service) ComposeSelectors(annotation Annotation, target Target) ([]Selector, error) {
	var selectors []Selector
	for _, creator := range s.creators {
		derived, err := creator.Describe(annotation, target)
		if err != nil {
			return nil, fmt.Errorf("selector creator %s: %w", creator.Name, err)
		}
		selectors = append(selectors, derived...)
	}
	return selectors, nil
}

// CreateAnnotation persists a new annotation on behalf of the identity.
// Server-controlled fields in the payload are discarded: the identity stamps
// user and consumer, the store assigns the id, and the clock assigns the
// timestamps. Selector creators contribute selectors to every target before
// the annotation is written.
func (s *Service) CreateAnnotation(ctx context.Context, identity Identity, annotation Annotation) (Annotation, Result, error) {
	ctx, done := s.instrument(ctx, "annotation.create")
	var err error
	defer func() { done(err) }()

	if !identity.Authenticated() {
		err = ErrPermission{Reason: reasonCreate}
		return Annotation{}, Result{}, err
	}

	annotation.ID = ""
	annotation.User = identity.User
	annotation.Consumer = identity.Consumer
	annotation.Deleted = false
	now := s.clock.Now()
	annotation.CreatedAt = now
	annotation.UpdatedAt = now
	if annotation.Permissions == nil {
		annotation.Permissions = Permissions{
			"read":   {identity.User},
			"update": {identity.User},
			"delete": {identity.User},
			"admin":  {identity.User},
		}
	}
	if len(annotation.Targets) == 0 && annotation.URI != "" {
		annotation.Targets = []Target{{Source: annotation.URI}}
	}
	for i := range annotation.Targets {
		var derived []Selector
		derived, err = s.ComposeSelectors(annotation, annotation.Targets[i])
		if err != nil {
			return Annotation{}, Result{}, err
		}
		annotation.Targets[i].Selectors = append(annotation.Targets[i].Selectors, derived...)
	}

	var created Annotation
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if tx.IsFlagged(identity.User) {
			annotation.NotInPublicSiteAreas = true
		}
		var txErr error
		created, txErr = tx.CreateAnnotation(annotation)
		return txErr
	})
	if err != nil {
		return Annotation{}, res, err
	}
	if err = s.index.Index(ctx, created); err != nil {
		return Annotation{}, res, fmt.Errorf("index annotation %s: %w", created.ID, err)
	}
	s.publish(ctx, ActionCreate, created)
	s.logger.Debug("annotation created",
		zap.String("id", created.ID),
		zap.String("user", created.User),
		zap.String("uri", created.URI))
	return created, res, nil
}

// ReadAnnotation fetches an annotation, enforcing read permission for the
// identity.
func (s *Service) ReadAnnotation(ctx context.Context, identity Identity, id string) (Annotation, error) {
	ctx, done := s.instrument(ctx, "annotation.read")
	var err error
	defer func() { done(err) }()

	annotation, ok := s.store.GetAnnotation(id)
	if !ok || annotation.Deleted {
		err = ErrNotFound{Entity: EntityAnnotation, ID: id}
		return Annotation{}, err
	}
	if !annotation.HasPermission("read", identity.User) {
		err = ErrPermission{Reason: reasonRead}
		return Annotation{}, err
	}
	s.publish(ctx, ActionRead, annotation)
	return annotation, nil
}

// UpdateAnnotation applies the non-empty fields of patch to an existing
// annotation. Server-controlled fields are never patched. Changing the
// permissions block requires the admin permission on the annotation. An
// update flagging the annotation deleted anonymizes user mentions: the author
// field is cleared and the author is removed from every permission list.
func (s *Service) UpdateAnnotation(ctx context.Context, identity Identity, id string, patch Annotation) (Annotation, Result, error) {
	ctx, done := s.instrument(ctx, "annotation.update")
	var err error
	defer func() { done(err) }()

	var updated Annotation
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		existing, ok := tx.FindAnnotation(id)
		if !ok || existing.Deleted {
			return ErrNotFound{Entity: EntityAnnotation, ID: id}
		}
		if !existing.HasPermission("update", identity.User) {
			return ErrPermission{Reason: reasonUpdate}
		}
		if patch.Permissions != nil && !permissionsEqual(patch.Permissions, existing.Permissions) {
			if !existing.HasPermission("admin", identity.User) {
				return ErrPermission{Reason: reasonPermissions}
			}
		}
		var txErr error
		updated, txErr = tx.UpdateAnnotation(id, func(a *Annotation) error {
			if patch.URI != "" {
				a.URI = patch.URI
			}
			if patch.Text != "" {
				a.Text = patch.Text
			}
			if patch.Quote != "" {
				a.Quote = patch.Quote
			}
			if patch.Tags != nil {
				a.Tags = append([]string(nil), patch.Tags...)
			}
			if patch.Targets != nil {
				a.Targets = clonedTargets(patch.Targets)
			}
			if patch.Permissions != nil {
				a.Permissions = patch.Permissions.Clone()
			}
			if patch.Extra != nil {
				if a.Extra == nil {
					a.Extra = make(map[string]any, len(patch.Extra))
				}
				for k, v := range patch.Extra {
					a.Extra[k] = v
				}
			}
			if patch.Deleted {
				a.Deleted = true
			}
			if a.Deleted {
				stripUserMentions(a, a.User)
			}
			a.UpdatedAt = s.clock.Now()
			return nil
		})
		return txErr
	})
	if err != nil {
		return Annotation{}, res, err
	}
	if updated.Deleted {
		if err = s.index.Delete(ctx, updated.ID); err != nil {
			return Annotation{}, res, fmt.Errorf("deindex annotation %s: %w", updated.ID, err)
		}
	} else if err = s.index.Index(ctx, updated); err != nil {
		return Annotation{}, res, fmt.Errorf("reindex annotation %s: %w", updated.ID, err)
	}
	s.publish(ctx, ActionUpdate, updated)
	return updated, res, nil
}

// DeleteAnnotation removes an annotation, enforcing delete permission.
func (s *Service) DeleteAnnotation(ctx context.Context, identity Identity, id string) (Result, error) {
	ctx, done := s.instrument(ctx, "annotation.delete")
	var err error
	defer func() { done(err) }()

	var deleted Annotation
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		existing, ok := tx.FindAnnotation(id)
		if !ok || existing.Deleted {
			return ErrNotFound{Entity: EntityAnnotation, ID: id}
		}
		if !existing.HasPermission("delete", identity.User) {
			return ErrPermission{Reason: reasonDelete}
		}
		deleted = existing
		return tx.DeleteAnnotation(id)
	})
	if err != nil {
		return res, err
	}
	if err = s.index.Delete(ctx, id); err != nil {
		return res, fmt.Errorf("deindex annotation %s: %w", id, err)
	}
	s.publish(ctx, ActionDelete, deleted)
	return res, nil
}

// Search executes a query built from raw request parameters. The identity's
// user, when present, widens the moderation filter to include their own
// flagged annotations.
func (s *Service) Search(ctx context.Context, params url.Values, identity Identity) (search.Results, error) {
	ctx, done := s.instrument(ctx, "annotation.search")
	results, err := s.index.Search(ctx, search.BuildQuery(params, identity.User))
	done(err)
	return results, err
}

// SearchQuery executes a pre-built query against the index.
func (s *Service) SearchQuery(ctx context.Context, query search.Query) (search.Results, error) {
	ctx, done := s.instrument(ctx, "annotation.search")
	results, err := s.index.Search(ctx, query)
	done(err)
	return results, err
}

// Recent returns the most recently updated annotations visible to the
// identity, hiding flagged users' annotations from everyone but themselves.
func (s *Service) Recent(ctx context.Context, identity Identity, limit int) (search.Results, error) {
	if limit <= 0 {
		limit = search.DefaultPageSize
	}
	query := search.Query{
		Size:      limit,
		Nipsa:     search.NipsaHideFlagged,
		AllowUser: identity.User,
	}
	return s.SearchQuery(ctx, query)
}

// FlagUser places the user on the moderation list and sweeps their existing
// annotations out of public site areas in the same transaction.
func (s *Service) FlagUser(ctx context.Context, userID string) (Result, error) {
	return s.setUserFlag(ctx, userID, true)
}

// UnflagUser removes the user from the moderation list and restores their
// annotations to public site areas.
func (s *Service) UnflagUser(ctx context.Context, userID string) (Result, error) {
	return s.setUserFlag(ctx, userID, false)
}

func (s *Service) setUserFlag(ctx context.Context, userID string, flagged bool) (Result, error) {
	ctx, done := s.instrument(ctx, "user.flag")
	var err error
	defer func() { done(err) }()

	if userID == "" {
		err = fmt.Errorf("user id cannot be empty")
		return Result{}, err
	}
	var swept []Annotation
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if flagged {
			if _, txErr := tx.FlagUser(userID); txErr != nil {
				return txErr
			}
		} else {
			if txErr := tx.UnflagUser(userID); txErr != nil {
				return txErr
			}
		}
		for _, annotation := range tx.Snapshot().ListAnnotations() {
			if annotation.User != userID || annotation.NotInPublicSiteAreas == flagged {
				continue
			}
			updated, txErr := tx.UpdateAnnotation(annotation.ID, func(a *Annotation) error {
				a.NotInPublicSiteAreas = flagged
				return nil
			})
			if txErr != nil {
				return txErr
			}
			swept = append(swept, updated)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if len(swept) > 0 {
		if err = s.index.BulkIndex(ctx, swept); err != nil {
			return res, fmt.Errorf("reindex flagged annotations: %w", err)
		}
	}
	s.logger.Info("user moderation flag changed",
		zap.String("user", userID),
		zap.Bool("flagged", flagged),
		zap.Int("annotations_swept", len(swept)))
	return res, nil
}

// FlaggedUsers lists the users currently on the moderation list.
func (s *Service) FlaggedUsers() []NipsaUser {
	return s.store.ListFlaggedUsers()
}

// AnonymizeUser strips the user's identity from all of their annotations:
// the author field is cleared and the user is removed from every permission
// list. The annotations themselves survive. The sweep is reindexed in bulk.
func (s *Service) AnonymizeUser(ctx context.Context, userID string) (int, Result, error) {
	ctx, done := s.instrument(ctx, "user.anonymize")
	var err error
	defer func() { done(err) }()

	if userID == "" {
		err = fmt.Errorf("user id cannot be empty")
		return 0, Result{}, err
	}
	var swept []Annotation
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, annotation := range tx.Snapshot().ListAnnotations() {
			if annotation.User != userID {
				continue
			}
			updated, txErr := tx.UpdateAnnotation(annotation.ID, func(a *Annotation) error {
				stripUserMentions(a, userID)
				return nil
			})
			if txErr != nil {
				return txErr
			}
			swept = append(swept, updated)
		}
		return nil
	})
	if err != nil {
		return 0, res, err
	}
	if len(swept) > 0 {
		if err = s.index.BulkIndex(ctx, swept); err != nil {
			return 0, res, fmt.Errorf("reindex anonymized annotations: %w", err)
		}
	}
	s.logger.Info("user anonymized",
		zap.String("user", userID),
		zap.Int("annotations", len(swept)))
	return len(swept), res, nil
}

// Reindex rebuilds the search index from the persistent store and returns the
// number of annotations indexed.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	ctx, done := s.instrument(ctx, "index.rebuild")
	var err error
	defer func() { done(err) }()

	annotations := s.store.ListAnnotations()
	live := annotations[:0]
	for _, annotation := range annotations {
		if !annotation.Deleted {
			live = append(live, annotation)
		}
	}
	if len(live) == 0 {
		return 0, nil
	}
	if err = s.index.BulkIndex(ctx, live); err != nil {
		return 0, fmt.Errorf("bulk index: %w", err)
	}
	s.logger.Info("search index rebuilt", zap.Int("annotations", len(live)))
	return len(live), nil
}

func (s *Service) publish(ctx context.Context, action Action, annotation Annotation) {
	event := events.Event{Action: action, Annotation: annotation, OccurredAt: s.clock.Now()}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("action", string(action)),
			zap.String("id", annotation.ID),
			zap.Error(err))
	}
}

// stripUserMentions clears the author field when it matches userID and
// removes userID from every permission list.
func stripUserMentions(a *Annotation, userID string) {
	if userID == "" {
		return
	}
	if a.User == userID {
		a.User = ""
	}
	for action, principals := range a.Permissions {
		kept := principals[:0]
		for _, p := range principals {
			if p != userID {
				kept = append(kept, p)
			}
		}
		a.Permissions[action] = kept
	}
}

func permissionsEqual(a, b Permissions) bool {
	if len(a) != len(b) {
		return false
	}
	for action, principals := range a {
		other, ok := b[action]
		if !ok || len(other) != len(principals) {
			return false
		}
		for i, p := range principals {
			if other[i] != p {
				return false
			}
		}
	}
	return true
}

func clonedTargets(targets []Target) []Target {
	out := make([]Target, len(targets))
	for i, t := range targets {
		ct := t
		if t.Selectors != nil {
			ct.Selectors = append([]Selector(nil), t.Selectors...)
		}
		out[i] = ct
	}
	return out
}
