package postgres

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/conntree/internal/schema"
)

// upgrader runs DDL statements and stamps the new ConfVersion in one
// transaction. It applies to any version from predecessor up to, but not
// including, target.
type upgrader struct {
	s           *Store
	predecessor schema.Version
	target      schema.Version
	statements  []string
}

func (u *upgrader) CanUpgrade(current schema.Version) bool {
	return current.InRange(u.predecessor, u.target)
}

func (u *upgrader) Upgrade(ctx context.Context) (schema.Version, error) {
	err := u.s.runInTransaction(ctx, func(tx executor) error {
		for _, stmt := range u.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return setConfVersion(ctx, tx, u.target.String())
	})
	if err != nil {
		return "", fmt.Errorf("upgrade to %s: %w", u.target, err)
	}
	return u.target, nil
}

func upgraders(s *Store) []schema.Upgrader {
	return []schema.Upgrader{
		&upgrader{
			s:           s,
			predecessor: schema.MustParse("3.0"),
			target:      schema.MustParse("3.1"),
			statements: []string{
				`CREATE TABLE IF NOT EXISTS tblExternalTools (
					DisplayName    VARCHAR(256) NOT NULL PRIMARY KEY,
					FileName       VARCHAR(1024) NOT NULL,
					Arguments      VARCHAR(1024),
					WorkingDir     VARCHAR(1024),
					WaitForExit    BOOLEAN NOT NULL DEFAULT FALSE,
					TryToIntegrate BOOLEAN NOT NULL DEFAULT FALSE,
					RunElevated    BOOLEAN NOT NULL DEFAULT FALSE,
					ShowOnToolbar  BOOLEAN NOT NULL DEFAULT TRUE
				)`,
			},
		},
		&upgrader{
			s:           s,
			predecessor: schema.MustParse("3.1"),
			target:      schema.MustParse("3.2"),
			statements: []string{
				`ALTER TABLE tblCons ALTER COLUMN Hostname TYPE VARCHAR(1024)`,
				`ALTER TABLE tblCons ALTER COLUMN Description TYPE TEXT`,
				`ALTER TABLE tblCons ALTER COLUMN OpeningCommand TYPE TEXT`,
				`ALTER TABLE tblCons ALTER COLUMN SSHOptions TYPE TEXT`,
				`ALTER TABLE tblCons ALTER COLUMN Password TYPE TEXT`,
				`ALTER TABLE tblCons ALTER COLUMN RDGatewayPassword TYPE TEXT`,
				`ALTER TABLE tblCons ALTER COLUMN VNCProxyPassword TYPE TEXT`,
			},
		},
	}
}
