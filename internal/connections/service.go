// Package connections ties a storage backend to the in-memory tree: it
// loads, saves, batches saves and announces them on the event bus.
package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/conntree/internal/events"
	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/multiuser"
	"github.com/alfredjeanlab/conntree/internal/store"
)

// ErrNotLoaded is returned by Save before the first successful Load.
var ErrNotLoaded = errors.New("connections have not been loaded")

// ErrNotBatching is returned by EndBatchingSaves without a matching
// BeginBatchingSaves.
var ErrNotBatching = errors.New("no batching scope is open")

// Options configures a Service.
type Options struct {
	Store    store.Store
	Backend  string // "xml" or "sql", reported in saved events
	Location string // file path or redacted database URL
	Instance string

	Publisher events.Publisher  // nil means no events
	Checker   multiuser.Checker // nil means no multi-user tracking
	Policy    model.Policy
	AutoSave  bool
	Logger    *slog.Logger
}

// Service owns the current tree and its persistence.
type Service struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	tree        *model.Tree
	unsubscribe func()
	unforward   func()
	batchDepth  int
	pending     bool

	saveMu sync.Mutex
}

func New(opts Options) *Service {
	if opts.Publisher == nil {
		opts.Publisher = &events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		opts:   opts,
		logger: opts.Logger.With("backend", opts.Backend, "location", opts.Location),
		now:    time.Now,
	}
}

// Tree returns the current tree, or nil before Load.
func (s *Service) Tree() *model.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// Load reads the backend and makes the result the current tree. On error
// the previous tree is kept.
func (s *Service) Load(ctx context.Context) (*model.Tree, error) {
	tree, err := s.opts.Store.Load(ctx)
	if err != nil {
		s.logger.Error("loading connections failed", "err", err)
		return nil, err
	}
	tree.Policy = s.opts.Policy

	s.mu.Lock()
	s.detach()
	s.tree = tree
	s.unsubscribe = tree.Subscribe(s.onChange)
	s.unforward = events.Forward(tree, s.opts.Publisher, s.opts.Instance, s.logger)
	s.pending = false
	s.mu.Unlock()

	s.mark(ctx)
	s.logger.Info("loaded connections", "nodes", tree.NodeCount())
	return tree, nil
}

// Reload is Load without the result, for use as a multi-user reload hook.
func (s *Service) Reload(ctx context.Context) error {
	_, err := s.Load(ctx)
	return err
}

// Save writes the current tree. Inside a batching scope it only records
// that a save is due.
func (s *Service) Save(ctx context.Context) error {
	s.mu.Lock()
	tree := s.tree
	if tree == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if s.batchDepth > 0 {
		s.pending = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.save(ctx, tree)
}

// BeginBatchingSaves opens a batching scope. Scopes nest; saves requested
// inside them coalesce into one save when the outermost scope ends.
func (s *Service) BeginBatchingSaves() {
	s.mu.Lock()
	s.batchDepth++
	s.mu.Unlock()
}

// EndBatchingSaves closes a batching scope and performs the coalesced save
// if this was the outermost scope and a save was requested.
func (s *Service) EndBatchingSaves(ctx context.Context) error {
	s.mu.Lock()
	if s.batchDepth == 0 {
		s.mu.Unlock()
		return ErrNotBatching
	}
	s.batchDepth--
	run := s.batchDepth == 0 && s.pending
	if run {
		s.pending = false
	}
	tree := s.tree
	s.mu.Unlock()

	if !run || tree == nil {
		return nil
	}
	return s.save(ctx, tree)
}

// Batch runs fn inside a batching scope.
func (s *Service) Batch(ctx context.Context, fn func() error) error {
	s.BeginBatchingSaves()
	fnErr := fn()
	return errors.Join(fnErr, s.EndBatchingSaves(ctx))
}

func (s *Service) onChange(model.Change) {
	if !s.opts.AutoSave {
		return
	}
	if err := s.Save(context.Background()); err != nil {
		s.logger.Error("automatic save failed", "err", err)
	}
}

func (s *Service) save(ctx context.Context, tree *model.Tree) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if err := s.opts.Store.Save(ctx, tree); err != nil {
		s.logger.Error("saving connections failed", "err", err)
		return fmt.Errorf("saving connections: %w", err)
	}
	s.mark(ctx)

	ev := events.ConnectionsSaved{
		Instance: s.opts.Instance,
		Backend:  s.opts.Backend,
		Location: s.opts.Location,
		Nodes:    tree.NodeCount(),
		SavedAt:  s.now().UTC(),
	}
	if err := s.opts.Publisher.Publish(ctx, events.TopicConnectionsSaved, ev); err != nil {
		s.logger.Warn("publishing saved event failed", "err", err)
	}
	s.logger.Info("saved connections", "nodes", ev.Nodes)
	return nil
}

func (s *Service) mark(ctx context.Context) {
	if s.opts.Checker == nil {
		return
	}
	if err := s.opts.Checker.Mark(ctx); err != nil {
		s.logger.Warn("recording update marker failed", "err", err)
	}
}

// detach stops observing the current tree. Callers hold mu.
func (s *Service) detach() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.unforward != nil {
		s.unforward()
		s.unforward = nil
	}
}

// Close detaches from the tree and closes the store and publisher.
func (s *Service) Close() error {
	s.mu.Lock()
	s.detach()
	s.mu.Unlock()
	return errors.Join(s.opts.Store.Close(), s.opts.Publisher.Close())
}
