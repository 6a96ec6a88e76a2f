package credential

import (
	"errors"
	"fmt"
	"os"

	gokeepasslib "github.com/tobischo/gokeepasslib/v3"
	"github.com/tobischo/gokeepasslib/v3/wrappers"
)

// ExportKDBX writes records to a new KeePass database at path, protected
// by password. An existing file is replaced.
func ExportKDBX(records []*Record, path, password string) error {
	if password == "" {
		return errors.New("export password must not be empty")
	}

	group := gokeepasslib.NewGroup()
	group.Name = "conntree"
	for _, rec := range records {
		group.Entries = append(group.Entries, entryFor(rec))
	}

	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(password)
	db.Content = gokeepasslib.NewContent()
	db.Content.Root = &gokeepasslib.RootData{Groups: []gokeepasslib.Group{group}}
	if err := db.LockProtectedEntries(); err != nil {
		return fmt.Errorf("lock protected entries: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := gokeepasslib.NewEncoder(f).Encode(db); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// ReadKDBX opens a KeePass database written by ExportKDBX and returns its
// entries as records. The record ID is kept in the entry's "CredentialId"
// field.
func ReadKDBX(path, password string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(password)
	if err := gokeepasslib.NewDecoder(f).Decode(db); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := db.UnlockProtectedEntries(); err != nil {
		return nil, fmt.Errorf("unlock protected entries: %w", err)
	}

	var out []*Record
	var walk func([]gokeepasslib.Group)
	walk = func(groups []gokeepasslib.Group) {
		for _, g := range groups {
			for _, e := range g.Entries {
				out = append(out, &Record{
					ID:       e.GetContent("CredentialId"),
					Title:    e.GetTitle(),
					Username: e.GetContent("UserName"),
					Domain:   e.GetContent("Domain"),
					Password: e.GetPassword(),
				})
			}
			walk(g.Groups)
		}
	}
	if db.Content != nil && db.Content.Root != nil {
		walk(db.Content.Root.Groups)
	}
	return out, nil
}

func entryFor(rec *Record) gokeepasslib.Entry {
	e := gokeepasslib.NewEntry()
	e.Values = append(e.Values,
		value("Title", rec.Title, false),
		value("UserName", rec.Username, false),
		value("Password", rec.Password, true),
		value("Domain", rec.Domain, false),
		value("CredentialId", rec.ID, false),
	)
	return e
}

func value(key, content string, protected bool) gokeepasslib.ValueData {
	return gokeepasslib.ValueData{
		Key:   key,
		Value: gokeepasslib.V{Content: content, Protected: wrappers.NewBoolWrapper(protected)},
	}
}
