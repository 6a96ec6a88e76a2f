package postgres

import (
	"database/sql"
	"fmt"

	"github.com/alfredjeanlab/conntree/internal/crypto"
	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/store"
)

// consRow is one tblCons row as read from the database.
type consRow struct {
	ConstantID string
	PositionID int
	ParentID   string
	Type       string
	Name       string
	LinkedID   sql.NullString
	Values     []sql.NullString
	Inherit    []sql.NullBool
}

// consInsert holds the arguments of one tblCons INSERT, in consColumns
// order.
type consInsert struct {
	ConstantID string
	Args       []any
}

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanCons(row scannable) (*consRow, error) {
	r := &consRow{
		Values:  make([]sql.NullString, len(properties)),
		Inherit: make([]sql.NullBool, len(inheritProperties)),
	}
	dest := []any{&r.ConstantID, &r.PositionID, &r.ParentID, &r.Type, &r.Name, &r.LinkedID}
	for i := range r.Values {
		dest = append(dest, &r.Values[i])
	}
	for i := range r.Inherit {
		dest = append(dest, &r.Inherit[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return r, nil
}

func scanConsRows(rows *sql.Rows) ([]*consRow, error) {
	var out []*consRow
	for rows.Next() {
		r, err := scanCons(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nodeFromRow materializes a row. Rows whose Type is neither Connection
// nor Container yield a nil node. NULL columns keep the default value.
// Sensitive columns that decrypt are remembered in seal.
func nodeFromRow(r *consRow, p *crypto.Provider, seal *sealed) (*model.Node, error) {
	kind := model.Kind(r.Type)
	if kind != model.KindConnection && kind != model.KindContainer {
		return nil, nil
	}
	n, err := model.NewNode(kind, r.ConstantID, r.Name)
	if err != nil {
		return nil, err
	}
	n.LinkedID = r.LinkedID.String

	for i, prop := range properties {
		v := r.Values[i]
		if !v.Valid {
			continue
		}
		text := v.String
		if prop.Sensitive {
			if plain, err := p.Decrypt(text, seal.password); err == nil {
				seal.remember(r.ConstantID, prop.Name, plain, text)
				text = plain
			}
		}
		if err := prop.Parse(&n.Props, text); err != nil {
			return nil, fmt.Errorf("%w: row %s: %v", store.ErrParseFailed, r.ConstantID, err)
		}
	}
	for i, prop := range inheritProperties {
		prop.SetInherited(&n.Inherit, r.Inherit[i].Valid && r.Inherit[i].Bool)
	}
	return n, nil
}

// rowFromNode builds the INSERT arguments for n at position pos.
// Sensitive values unchanged since prev keep their ciphertext; every
// sensitive value written is remembered in next.
// Favorite, Expanded and Connected are local to each client and are not
// stored.
func rowFromNode(n *model.Node, pos int, p *crypto.Provider, prev, next *sealed) (consInsert, error) {
	parentID := rootID
	if parent := n.Parent(); parent != nil && !parent.IsRoot() {
		parentID = parent.ID
	}
	args := make([]any, 0, len(consColumns))
	args = append(args, n.ID, pos, parentID, n.Kind().String(), n.Name, nullString(n.LinkedID))

	for _, prop := range properties {
		v := prop.Get(&n.Props)
		if prop.Sensitive {
			plain := v.(string)
			enc, ok := prev.lookup(n.ID, prop.Name, plain)
			if !ok {
				var err error
				if enc, err = p.Encrypt(plain, next.password); err != nil {
					return consInsert{}, fmt.Errorf("encrypt %s of %s: %w", prop.Name, n.ID, err)
				}
			}
			next.remember(n.ID, prop.Name, plain, enc)
			v = enc
		}
		args = append(args, v)
	}
	for _, prop := range inheritProperties {
		args = append(args, prop.Inherited(&n.Inherit))
	}
	return consInsert{ConstantID: n.ID, Args: args}, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
