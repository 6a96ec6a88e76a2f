// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/conntree/internal/crypto"
	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/schema"
	"github.com/alfredjeanlab/conntree/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// BaselineVersion is the ConfVersion of the tables created by the
	// embedded migrations.
	BaselineVersion = schema.MustParse("3.0")
	// LatestVersion is the ConfVersion this build reads and writes.
	LatestVersion = schema.MustParse("3.2")
)

// rootID is the ParentID of nodes directly under the connections root.
const rootID = "0"

// Options configures a Store.
type Options struct {
	// ReadOnly turns Save into a no-op.
	ReadOnly bool
	Provider *crypto.Provider
	Auth     *crypto.Authenticator
	Logger   *slog.Logger
}

// Store implements store.Store backed by a PostgreSQL database.
type Store struct {
	db       *sql.DB
	opts     Options
	migrator *schema.Migrator
	logger   *slog.Logger
	now      func() time.Time

	// loaded holds the ConstantID of every row read by the last Load,
	// including rows of types that were skipped.
	loaded  map[string]struct{}
	skipped map[string]struct{}
	seal    *sealed
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Open connects to the PostgreSQL database at the given URL, configures
// the connection pool, and creates the baseline tables if missing.
func Open(databaseURL string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return New(db, opts), nil
}

// New wraps an open database whose baseline tables already exist.
func New(db *sql.DB, opts Options) *Store {
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
	s := &Store{
		db:      db,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		loaded:  map[string]struct{}{},
		skipped: map[string]struct{}{},
	}
	s.migrator = schema.NewMigrator(LatestVersion, logger, upgraders(s)...)
	return s
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runInTransaction begins a transaction, calls fn with it, and commits on
// success or rolls back on error.
func (s *Store) runInTransaction(ctx context.Context, fn func(tx executor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "err", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load reads tblRoot and tblCons. On first use of an empty database the
// root metadata is created at BaselineVersion, then upgraded.
func (s *Store) Load(ctx context.Context) (*model.Tree, error) {
	meta, err := queryRoot(ctx, s.db)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.bootstrap(ctx); err != nil {
			return nil, err
		}
		meta, err = queryRoot(ctx, s.db)
	}
	if err != nil {
		s.logger.Error("reading root metadata failed", "table", "tblRoot", "err", err)
		return nil, fmt.Errorf("read tblRoot: %w", err)
	}

	version, err := schema.ParseVersion(meta.ConfVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: tblRoot.ConfVersion: %v", store.ErrParseFailed, err)
	}
	version, err = s.migrator.Run(ctx, version)
	if err != nil {
		return nil, err
	}
	if version.Compare(LatestVersion) != 0 {
		return nil, fmt.Errorf("%w: schema at %s after upgrade, need %s", store.ErrVersionUnsupported, version, LatestVersion)
	}

	provider, err := crypto.ProviderFromSettings(meta.Engine, meta.Mode, strconv.Itoa(meta.KdfIterations))
	if err != nil {
		return nil, fmt.Errorf("%w: tblRoot cipher settings: %v", store.ErrParseFailed, err)
	}
	authn, err := s.opts.Auth.WithProvider(provider).Authenticate(ctx, meta.Protected)
	if err != nil {
		return nil, err
	}
	seal := newSealed(provider, authn.Password, authn.Protected, meta.Protected)

	rows, err := queryCons(ctx, s.db)
	if err != nil {
		s.logger.Error("reading connections failed", "table", "tblCons", "err", err)
		return nil, fmt.Errorf("read tblCons: %w", err)
	}

	root := model.NewRoot(meta.Name, model.RootConnections)
	root.SetExport(meta.Export)
	root.SetVersion(version.String())
	if authn.Protected {
		root.SetPassword(authn.Password)
	}

	loaded := make(map[string]struct{}, len(rows))
	skipped := map[string]struct{}{}
	built := make(map[string]*model.Node, len(rows))
	var order []*consRow
	for _, r := range rows {
		loaded[r.ConstantID] = struct{}{}
		n, err := nodeFromRow(r, provider, seal)
		if err != nil {
			return nil, err
		}
		if n == nil {
			skipped[r.ConstantID] = struct{}{}
			s.logger.Debug("skipping row", "table", "tblCons", "id", r.ConstantID, "type", r.Type)
			continue
		}
		built[r.ConstantID] = n
		order = append(order, r)
	}

	for _, r := range order {
		parent := root
		if p, ok := built[r.ParentID]; ok && r.ParentID != rootID && p.IsContainer() {
			parent = p
		}
		if err := parent.AddChild(built[r.ConstantID]); err != nil {
			return nil, fmt.Errorf("%w: node %s: %v", store.ErrParseFailed, r.ConstantID, err)
		}
	}

	s.loaded, s.skipped, s.seal = loaded, skipped, seal
	tree := model.NewTree()
	if err := tree.AddRoot(root); err != nil {
		return nil, err
	}
	return tree, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	marker, err := crypto.NewMarker(s.opts.Provider, crypto.DefaultPassword, false)
	if err != nil {
		return err
	}
	meta := s.rootRow("Connections", false, marker, BaselineVersion)
	if err := insertRoot(ctx, s.db, meta); err != nil {
		s.logger.Error("creating root metadata failed", "table", "tblRoot", "err", err)
		return fmt.Errorf("insert tblRoot: %w", err)
	}
	s.logger.Info("initialized empty connection database", "version", BaselineVersion.String())
	return nil
}

// Save writes the tree in one transaction. Rows removed from the tree
// since the last Load are deleted and every node is upserted; rows this
// client never loaded, and rows of skipped types, are left as they are.
func (s *Store) Save(ctx context.Context, tree *model.Tree) error {
	if s.opts.ReadOnly {
		s.logger.Info("database is read-only, not saving")
		return nil
	}
	root := tree.ConnectionsRoot()
	if root == nil {
		return fmt.Errorf("save: tree has no connections root")
	}
	nodes := root.Descendants()

	if len(nodes) == 0 {
		count, err := countCons(ctx, s.db)
		if err != nil {
			return fmt.Errorf("count tblCons: %w", err)
		}
		if count > 0 {
			s.logger.Warn("refusing to replace stored connections with an empty tree", "table", "tblCons", "rows", count)
			return store.ErrDestructiveOverwriteRejected
		}
	}

	provider := s.opts.Provider
	password := crypto.DefaultPassword
	if root.Protected() {
		password = root.Password()
	}
	var prev *sealed
	if s.seal.matches(provider, password, root.Protected()) {
		prev = s.seal
	}
	marker := ""
	if prev != nil {
		marker = prev.marker
	}
	if marker == "" {
		var err error
		if marker, err = crypto.NewMarker(provider, password, root.Protected()); err != nil {
			return fmt.Errorf("encrypt protected marker: %w", err)
		}
	}
	next := newSealed(provider, password, root.Protected(), marker)

	rows := make([]consInsert, 0, len(nodes))
	for i, n := range nodes {
		r, err := rowFromNode(n, i, provider, prev, next)
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}
	deleted := s.DeletedSinceLoad(tree)
	meta := s.rootRow(root.Name, root.Export(), marker, LatestVersion)
	now := s.now().UTC()

	err := s.runInTransaction(ctx, func(tx executor) error {
		if err := replaceRoot(ctx, tx, meta); err != nil {
			return fmt.Errorf("tblRoot: %w", err)
		}
		if err := deleteCons(ctx, tx, deleted); err != nil {
			return fmt.Errorf("tblCons: %w", err)
		}
		if err := upsertCons(ctx, tx, rows); err != nil {
			return fmt.Errorf("tblCons: %w", err)
		}
		if err := replaceUpdate(ctx, tx, now); err != nil {
			return fmt.Errorf("tblUpdate: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("saving connections failed", "err", err)
		return fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	}
	if len(deleted) > 0 {
		s.logger.Debug("deleted rows", "table", "tblCons", "count", len(deleted))
	}

	for _, id := range deleted {
		delete(s.loaded, id)
	}
	for _, r := range rows {
		s.loaded[r.ConstantID] = struct{}{}
	}
	s.seal = next
	return nil
}

// rootRow builds the tblRoot row, stamped with the configured cipher
// settings. The root's property values have no columns and load as
// defaults.
func (s *Store) rootRow(name string, export bool, marker string, version schema.Version) rootRow {
	return rootRow{
		Name:          name,
		Export:        export,
		Protected:     marker,
		ConfVersion:   version.String(),
		Engine:        string(s.opts.Provider.Engine()),
		Mode:          string(s.opts.Provider.Mode()),
		KdfIterations: s.opts.Provider.Iterations(),
	}
}

// LastUpdate returns the time of the last successful save by any client.
// The zero time means no save has happened yet.
func (s *Store) LastUpdate(ctx context.Context) (time.Time, error) {
	t, err := queryLastUpdate(ctx, s.db)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return t, err
}

// LoadedIDs returns the ConstantIDs read by the last Load or written by
// a later Save, less those a Save deleted.
func (s *Store) LoadedIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.loaded))
	for id := range s.loaded {
		out[id] = struct{}{}
	}
	return out
}

// DeletedSinceLoad returns the IDs that were loaded but are no longer in
// tree. Rows of skipped types are never reported.
func (s *Store) DeletedSinceLoad(tree *model.Tree) []string {
	var out []string
	for id := range s.loaded {
		if _, ok := s.skipped[id]; ok {
			continue
		}
		if tree.FindByID(id) == nil {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
