// Package credential extracts per-connection usernames, domains and
// passwords into a shared set of credential records.
package credential

import (
	"sort"
	"strings"
	"sync"

	"github.com/alfredjeanlab/conntree/internal/idgen"
)

// Record is a reusable credential. Connections reference it by ID.
type Record struct {
	ID       string
	Title    string
	Username string
	Domain   string
	Password string
}

// Key is the identity used for deduplication: domain\username, compared
// case-insensitively. The password is not part of it, so two records that
// differ only in password are treated as the same credential.
func (r *Record) Key() string {
	return strings.ToLower(r.Domain + `\` + r.Username)
}

// Same reports whether r and o have the same Key.
func (r *Record) Same(o *Record) bool {
	return r.Key() == o.Key()
}

func newRecord(title, username, domain, password string) (*Record, error) {
	id, err := idgen.CredentialID()
	if err != nil {
		return nil, err
	}
	return &Record{ID: id, Title: title, Username: username, Domain: domain, Password: password}, nil
}

// Repository is an in-memory, deduplicating set of records. It is safe
// for concurrent use.
type Repository struct {
	mu      sync.Mutex
	records []*Record
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Add stores r unless a record with the same Key exists, in which case the
// existing record is returned and r is discarded.
func (r *Repository) Add(rec *Record) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.Same(rec) {
			return existing, false
		}
	}
	r.records = append(r.records, rec)
	return rec, true
}

// Get returns the record with the given ID.
func (r *Repository) Get(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return nil, false
}

// Remove deletes the record with the given ID.
func (r *Repository) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.records {
		if rec.ID == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return true
		}
	}
	return false
}

// List returns the records sorted by title.
func (r *Repository) List() []*Record {
	r.mu.Lock()
	out := append([]*Record(nil), r.records...)
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out
}

// Len returns the number of records.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
