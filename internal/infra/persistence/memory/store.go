// Package memory provides an in-memory implementation of the local document
// store used for tests and ephemeral environments.
package memory

import (
	"clinicflow/internal/infra/persistence/lazyindex"
	"clinicflow/pkg/domain"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.DocumentStore = (*Store)(nil)

type indexKey struct {
	kind  domain.Kind
	value string
}

type idSet map[string]struct{}

// Store keeps documents in process memory with lazily built secondary indexes
// on (kind), (kind, status) and (kind, ref).
type Store struct {
	mu       sync.RWMutex
	docs     map[string]domain.Document
	indexed  bool
	byKind   map[domain.Kind]idSet
	byStatus map[indexKey]idSet
	byRef    map[indexKey]idSet
	engine   *domain.RulesEngine
	indexes  *lazyindex.Initializer
}

// NewStore constructs an in-memory store evaluating the provided rules engine on every write.
func NewStore(engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		docs:   make(map[string]domain.Document),
		engine: engine,
	}
	s.indexes = lazyindex.New(s.buildIndexes)
	return s
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// Indexes exposes the index initialization handle.
func (s *Store) Indexes() *lazyindex.Initializer { return s.indexes }

// Put inserts or updates a document under optimistic concurrency.
func (s *Store) Put(ctx context.Context, doc domain.Document) (domain.Document, domain.Result, error) {
	if doc.Kind == "" {
		return domain.Document{}, domain.Result{}, &domain.ValidationError{ID: doc.ID, Field: "kind", Reason: "required"}
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.docs[doc.ID]
	if !exists && doc.Revision != "" {
		return domain.Document{}, domain.Result{}, &domain.ConflictError{ID: doc.ID, Expected: doc.Revision}
	}
	if exists && doc.Revision != current.Revision {
		return domain.Document{}, domain.Result{}, &domain.ConflictError{ID: doc.ID, Expected: doc.Revision, Current: current.Revision}
	}
	if exists && current.Kind != doc.Kind {
		return domain.Document{}, domain.Result{}, &domain.ValidationError{Kind: doc.Kind, ID: doc.ID, Field: "kind", Reason: "cannot change from " + string(current.Kind)}
	}

	change := domain.Change{Kind: doc.Kind, Action: domain.ActionCreate, After: doc.Clone()}
	if exists {
		before := current.Clone()
		change.Action = domain.ActionUpdate
		change.Before = &before
	}
	res, err := s.engine.Evaluate(ctx, lockedView{store: s}, change)
	if err != nil {
		return domain.Document{}, domain.Result{}, err
	}
	if res.HasBlocking() {
		return domain.Document{}, res, domain.RuleViolationError{Result: res}
	}

	next := doc.Clone()
	next.Revision = domain.NextRevision(current.Revision)
	if exists && s.indexed {
		s.unindex(current)
	}
	s.docs[next.ID] = next
	if s.indexed {
		s.index(next)
	}
	return next.Clone(), res, nil
}

// Get returns a committed document by id.
func (s *Store) Get(_ context.Context, id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, &domain.NotFoundError{ID: id}
	}
	return doc.Clone(), nil
}

// Find scans the narrowest secondary index matching the query.
func (s *Store) Find(ctx context.Context, q domain.Query) ([]domain.Document, error) {
	if q.Kind == "" {
		return nil, &domain.ValidationError{Field: "kind", Reason: "query requires a kind"}
	}
	if err := s.indexes.Ensure(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates idSet
	switch {
	case q.Status != "":
		candidates = s.byStatus[indexKey{kind: q.Kind, value: q.Status}]
	case q.Ref != "":
		candidates = s.byRef[indexKey{kind: q.Kind, value: q.Ref}]
	default:
		candidates = s.byKind[q.Kind]
	}
	out := make([]domain.Document, 0, len(candidates))
	for id := range candidates {
		doc := s.docs[id]
		if q.Matches(doc) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.Less(out[i], out[j]) })
	return out, nil
}

// EnsureIndexes builds the secondary indexes once.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	return s.indexes.Ensure(ctx)
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

func (s *Store) buildIndexes(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexed {
		return nil
	}
	s.byKind = make(map[domain.Kind]idSet)
	s.byStatus = make(map[indexKey]idSet)
	s.byRef = make(map[indexKey]idSet)
	for _, doc := range s.docs {
		s.index(doc)
	}
	s.indexed = true
	return nil
}

func (s *Store) index(doc domain.Document) {
	add(s.byKind, doc.Kind, doc.ID)
	if doc.Status != "" {
		add(s.byStatus, indexKey{kind: doc.Kind, value: doc.Status}, doc.ID)
	}
	if doc.Ref != "" {
		add(s.byRef, indexKey{kind: doc.Kind, value: doc.Ref}, doc.ID)
	}
}

func (s *Store) unindex(doc domain.Document) {
	remove(s.byKind, doc.Kind, doc.ID)
	remove(s.byStatus, indexKey{kind: doc.Kind, value: doc.Status}, doc.ID)
	remove(s.byRef, indexKey{kind: doc.Kind, value: doc.Ref}, doc.ID)
}

func add[K comparable](index map[K]idSet, key K, id string) {
	set, ok := index[key]
	if !ok {
		set = make(idSet)
		index[key] = set
	}
	set[id] = struct{}{}
}

func remove[K comparable](index map[K]idSet, key K, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

// lockedView serves rule lookups while Put already holds the store lock.
type lockedView struct {
	store *Store
}

func (v lockedView) Lookup(_ context.Context, id string) (domain.Document, error) {
	doc, ok := v.store.docs[id]
	if !ok {
		return domain.Document{}, &domain.NotFoundError{ID: id}
	}
	return doc.Clone(), nil
}
