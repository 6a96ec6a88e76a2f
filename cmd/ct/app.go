package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/alfredjeanlab/conntree/internal/config"
	"github.com/alfredjeanlab/conntree/internal/connections"
	"github.com/alfredjeanlab/conntree/internal/crypto"
	"github.com/alfredjeanlab/conntree/internal/events"
	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/multiuser"
	"github.com/alfredjeanlab/conntree/internal/store"
	"github.com/alfredjeanlab/conntree/internal/store/postgres"
	"github.com/alfredjeanlab/conntree/internal/store/xmlfile"
	ctsync "github.com/alfredjeanlab/conntree/internal/sync"
	"github.com/alfredjeanlab/conntree/internal/ui"
)

// app is everything a command needs to work on the configured backend.
type app struct {
	cfg      *config.Config
	provider *crypto.Provider
	auth     *crypto.Authenticator
	mirror   *ctsync.Mirror
	store    store.Store
	checker  multiuser.Checker
	svc      *connections.Service
	tree     *model.Tree
}

func newProvider(c *config.Config) (*crypto.Provider, error) {
	return crypto.ProviderFromSettings(c.EncryptionEngine, c.BlockCipherMode, strconv.Itoa(c.KdfIterations))
}

func newMirror(ctx context.Context, c *config.Config) *ctsync.Mirror {
	var dests []ctsync.Destination
	if c.MirrorS3Bucket != "" {
		d, err := ctsync.NewS3Destination(ctx, ctsync.S3Options{
			Bucket:   c.MirrorS3Bucket,
			Key:      c.MirrorS3Key,
			Region:   c.MirrorS3Region,
			Endpoint: c.MirrorS3Endpoint,
		}, logger)
		if err != nil {
			logger.Error("failed to create S3 mirror destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Debug("S3 mirror enabled", "bucket", c.MirrorS3Bucket, "key", c.MirrorS3Key)
		}
	}
	if c.MirrorGitRepo != "" {
		dests = append(dests, ctsync.NewGitDestination(c.MirrorGitRepo, c.MirrorGitFile, c.MirrorGitBranch))
		logger.Debug("git mirror enabled", "repo", c.MirrorGitRepo, "file", c.MirrorGitFile)
	}
	if len(dests) == 0 {
		return nil
	}
	return ctsync.NewMirror(logger, dests...)
}

func newPublisher(c *config.Config) events.Publisher {
	if c.NATSURL == "" {
		return &events.NoopPublisher{}
	}
	pub, err := events.NewNATSPublisher(c.NATSURL)
	if err != nil {
		logger.Warn("events disabled", "err", err)
		return &events.NoopPublisher{}
	}
	return pub
}

// redactURL hides the password in a database URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "database"
	}
	return u.Redacted()
}

// openStore builds the backend named by backend using c.
func openStore(ctx context.Context, c *config.Config, backend string, auth *crypto.Authenticator, provider *crypto.Provider, mirror *ctsync.Mirror) (store.Store, multiuser.Checker, string, error) {
	switch backend {
	case config.BackendXML:
		opts := xmlfile.Options{
			Path:        c.File,
			BackupCount: c.BackupCount,
			Provider:    provider,
			FullFile:    c.FullFileEncryption,
			Auth:        auth,
			Logger:      logger,
		}
		if mirror != nil {
			opts.Mirror = mirror
		}
		return xmlfile.New(opts), multiuser.NewFileChecker(c.File), c.File, nil
	case config.BackendSQL:
		st, err := postgres.Open(c.DatabaseURL, postgres.Options{
			ReadOnly: c.SQLReadOnly,
			Provider: provider,
			Auth:     auth,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, "", err
		}
		return st, multiuser.NewSQLChecker(st), redactURL(c.DatabaseURL), nil
	}
	return nil, nil, "", fmt.Errorf("unknown backend %q", backend)
}

// openApp opens the configured backend and loads the tree.
func openApp(ctx context.Context) (*app, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	auth := crypto.NewAuthenticator(provider, ui.PasswordPrompt("Master password"), logger)
	mirror := newMirror(ctx, cfg)

	st, checker, location, err := openStore(ctx, cfg, cfg.Backend, auth, provider, mirror)
	if err != nil {
		return nil, err
	}
	svc := connections.New(connections.Options{
		Store:     st,
		Backend:   cfg.Backend,
		Location:  location,
		Instance:  cfg.Instance,
		Publisher: newPublisher(cfg),
		Checker:   checker,
		Policy:    model.Policy{SetHostnameLikeDisplayName: cfg.HostnameLikeDisplayName},
		Logger:    logger,
	})
	tree, err := svc.Load(ctx)
	if err != nil {
		svc.Close()
		return nil, err
	}
	return &app{
		cfg:      cfg,
		provider: provider,
		auth:     auth,
		mirror:   mirror,
		store:    st,
		checker:  checker,
		svc:      svc,
		tree:     tree,
	}, nil
}

func (a *app) Close() {
	if err := a.svc.Close(); err != nil {
		logger.Warn("closing backend", "err", err)
	}
}

// save writes the tree back to the backend.
func (a *app) save(ctx context.Context) error {
	return a.svc.Save(ctx)
}

// root returns the connections root.
func (a *app) root() *model.Node {
	return a.tree.ConnectionsRoot()
}

// node looks up id, accepting "root" or an empty id for the connections
// root.
func (a *app) node(id string) (*model.Node, error) {
	if id == "" || id == "root" {
		return a.root(), nil
	}
	n := a.tree.FindByID(id)
	if n == nil {
		return nil, fmt.Errorf("no node with id %s", id)
	}
	return n, nil
}
