package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/conntree/internal/model"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Fixed tblCons columns, followed by one column per property and one
// Inherit column per inheritable property.
var fixedColumns = []string{"ConstantID", "PositionID", "ParentID", "Type", "Name", "LinkedConnectionId"}

var (
	properties        = model.AllProperties()
	inheritProperties = func() []model.Property {
		var out []model.Property
		for _, p := range properties {
			if p.Inheritable() {
				out = append(out, p)
			}
		}
		return out
	}()
	consColumns = func() []string {
		cols := append([]string(nil), fixedColumns...)
		for _, p := range properties {
			cols = append(cols, p.Name)
		}
		for _, p := range inheritProperties {
			cols = append(cols, "Inherit"+p.Name)
		}
		return cols
	}()
	consColumnList = strings.Join(consColumns, ", ")
	insertConsSQL  = func() string {
		ph := make([]string, len(consColumns))
		for i := range ph {
			ph[i] = fmt.Sprintf("$%d", i+1)
		}
		set := make([]string, 0, len(consColumns)-1)
		for _, c := range consColumns[1:] {
			set = append(set, c+" = EXCLUDED."+c)
		}
		return "INSERT INTO tblCons (" + consColumnList + ") VALUES (" + strings.Join(ph, ", ") +
			") ON CONFLICT (ConstantID) DO UPDATE SET " + strings.Join(set, ", ")
	}()
)

// rootRow is the single tblRoot row. The cipher columns record the
// settings the Protected marker and the sensitive tblCons columns were
// written with.
type rootRow struct {
	Name          string
	Export        bool
	Protected     string
	ConfVersion   string
	Engine        string
	Mode          string
	KdfIterations int
}

func queryRoot(ctx context.Context, db executor) (rootRow, error) {
	var r rootRow
	err := db.QueryRowContext(ctx, `
		SELECT Name, Export, Protected, ConfVersion, EncryptionEngine, BlockCipherMode, KdfIterations FROM tblRoot LIMIT 1`,
	).Scan(&r.Name, &r.Export, &r.Protected, &r.ConfVersion, &r.Engine, &r.Mode, &r.KdfIterations)
	return r, err
}

func insertRoot(ctx context.Context, db executor, r rootRow) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tblRoot (Name, Export, Protected, ConfVersion, EncryptionEngine, BlockCipherMode, KdfIterations)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.Name, r.Export, r.Protected, r.ConfVersion, r.Engine, r.Mode, r.KdfIterations,
	)
	return err
}

func replaceRoot(ctx context.Context, db executor, r rootRow) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM tblRoot`); err != nil {
		return err
	}
	return insertRoot(ctx, db, r)
}

func setConfVersion(ctx context.Context, db executor, version string) error {
	_, err := db.ExecContext(ctx, `UPDATE tblRoot SET ConfVersion = $1`, version)
	return err
}

func countCons(ctx context.Context, db executor) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tblCons`).Scan(&n)
	return n, err
}

func queryCons(ctx context.Context, db executor) ([]*consRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+consColumnList+` FROM tblCons ORDER BY PositionID`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConsRows(rows)
}

// deleteCons removes the rows with the given ConstantIDs.
func deleteCons(ctx context.Context, db executor, ids []string) error {
	for _, id := range ids {
		if _, err := db.ExecContext(ctx, `DELETE FROM tblCons WHERE ConstantID = $1`, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return nil
}

// upsertCons inserts rows, replacing any row with the same ConstantID.
// Rows not named are left as they are.
func upsertCons(ctx context.Context, db executor, rows []consInsert) error {
	for _, r := range rows {
		if _, err := db.ExecContext(ctx, insertConsSQL, r.Args...); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ConstantID, err)
		}
	}
	return nil
}

func replaceUpdate(ctx context.Context, db executor, t time.Time) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM tblUpdate`); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `INSERT INTO tblUpdate (LastUpdate) VALUES ($1)`, t)
	return err
}

func queryLastUpdate(ctx context.Context, db executor) (time.Time, error) {
	var t time.Time
	err := db.QueryRowContext(ctx, `SELECT LastUpdate FROM tblUpdate LIMIT 1`).Scan(&t)
	return t, err
}
