package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/conntree/internal/model"
)

// Store defines the persistence interface for the connection tree.
type Store interface {
	// Load reads the stored document and builds a fully populated tree. On
	// error no tree is returned.
	Load(ctx context.Context) (*model.Tree, error)

	// Save writes the connections root of tree. It either completes or
	// leaves the stored data unchanged.
	Save(ctx context.Context, tree *model.Tree) error

	// Close releases the underlying resources.
	Close() error
}

var (
	// ErrParseFailed means the stored document is malformed.
	ErrParseFailed = errors.New("stored document could not be parsed")

	// ErrVersionUnsupported means the stored schema is newer than this
	// build understands. Nothing is migrated.
	ErrVersionUnsupported = errors.New("stored schema version is not supported")

	// ErrDestructiveOverwriteRejected means a save of an empty tree over a
	// non-empty store was refused. Stored data is untouched.
	ErrDestructiveOverwriteRejected = errors.New("refusing to overwrite stored connections with an empty tree")

	// ErrTransactionFailed wraps any failure inside a save transaction,
	// after the transaction was rolled back.
	ErrTransactionFailed = errors.New("transaction failed and was rolled back")
)
