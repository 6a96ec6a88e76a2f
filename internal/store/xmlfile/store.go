package xmlfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/alfredjeanlab/conntree/internal/crypto"
	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/store"
)

// lockRetry is how often a contended write lock is retried.
const lockRetry = 50 * time.Millisecond

// Mirror receives a copy of every document written to disk.
type Mirror interface {
	Write(ctx context.Context, data []byte) error
}

// Options configures a Store.
type Options struct {
	Path string
	// BackupCount is how many previous versions to keep. Zero disables
	// backups.
	BackupCount int
	Provider    *crypto.Provider
	FullFile    bool
	Auth        *crypto.Authenticator
	Mirror      Mirror
	Logger      *slog.Logger
}

// Store implements store.Store on a single XML file.
type Store struct {
	opts   Options
	ser    *Serializer
	de     *Deserializer
	lock   *flock.Flock
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a file store. Nothing is read until Load.
func New(opts Options) *Store {
	if opts.Provider == nil {
		opts.Provider = crypto.DefaultProvider()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Auth == nil {
		opts.Auth = crypto.NewAuthenticator(opts.Provider, nil, logger)
	}
	return &Store{
		opts:   opts,
		ser:    NewSerializer(opts.Provider, opts.FullFile),
		de:     NewDeserializer(opts.Auth, logger),
		lock:   flock.New(opts.Path + ".lock"),
		logger: logger.With("file", opts.Path),
		now:    time.Now,
	}
}

// Path returns the document path.
func (s *Store) Path() string { return s.opts.Path }

// Load reads the document. A missing file yields a tree with an empty
// connections root. A corrupt file is replaced by the newest backup that
// still parses.
func (s *Store) Load(ctx context.Context) (*model.Tree, error) {
	data, err := os.ReadFile(s.opts.Path)
	if os.IsNotExist(err) {
		s.logger.Info("no connections file, starting empty")
		return newTree(model.NewRoot("Connections", model.RootConnections)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.opts.Path, err)
	}

	root, err := s.de.Deserialize(ctx, data)
	if err == nil {
		return newTree(root), nil
	}
	if !errors.Is(err, store.ErrParseFailed) {
		return nil, err
	}
	s.logger.Warn("connections file is unreadable, trying backups", "err", err)

	root, recErr := s.recover(ctx)
	if recErr != nil {
		s.logger.Error("backup recovery failed", "err", recErr)
		return nil, err
	}
	if root == nil {
		return nil, err
	}
	return newTree(root), nil
}

func (s *Store) recover(ctx context.Context) (*model.Node, error) {
	backups, err := listBackups(s.opts.Path)
	if err != nil {
		return nil, err
	}
	for _, b := range backups {
		data, err := os.ReadFile(b)
		if err != nil {
			s.logger.Warn("skipping unreadable backup", "backup", b, "err", err)
			continue
		}
		root, err := s.de.Deserialize(ctx, data)
		if err != nil {
			s.logger.Warn("skipping backup", "backup", b, "err", err)
			continue
		}
		if err := writeAtomic(s.opts.Path, data); err != nil {
			return nil, fmt.Errorf("restore %s: %w", b, err)
		}
		s.logger.Warn("restored connections from backup", "backup", b)
		return root, nil
	}
	return nil, nil
}

func newTree(root *model.Node) *model.Tree {
	t := model.NewTree()
	_ = t.AddRoot(root)
	return t
}

// Save writes the tree's connections root.
func (s *Store) Save(ctx context.Context, tree *model.Tree) error {
	root := tree.ConnectionsRoot()
	if root == nil {
		return fmt.Errorf("save %s: tree has no connections root", s.opts.Path)
	}
	data, err := s.ser.Serialize(root)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.opts.Path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", s.opts.Path)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("unlock failed", "err", err)
		}
	}()

	if s.opts.BackupCount > 0 {
		b, err := createBackup(s.opts.Path, s.now())
		if err != nil {
			return fmt.Errorf("backup %s: %w", s.opts.Path, err)
		}
		if b != "" {
			s.logger.Debug("created backup", "backup", b)
		}
	}
	if err := writeAtomic(s.opts.Path, data); err != nil {
		return fmt.Errorf("write %s: %w", s.opts.Path, err)
	}
	if s.opts.BackupCount > 0 {
		if err := pruneBackups(s.opts.Path, s.opts.BackupCount, s.logger); err != nil {
			s.logger.Warn("pruning backups failed", "err", err)
		}
	}

	if s.opts.Mirror != nil {
		if err := s.opts.Mirror.Write(ctx, data); err != nil {
			s.logger.Warn("mirror write failed", "err", err)
		}
	}
	return nil
}

// ModTime returns the document's modification time truncated to seconds.
// Multi-user checkers compare it between polls.
func (s *Store) ModTime() (time.Time, error) {
	fi, err := os.Stat(s.opts.Path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime().Truncate(time.Second), nil
}

// Close is a no-op; the lock is only held during Save.
func (s *Store) Close() error { return nil }
