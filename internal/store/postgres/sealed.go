package postgres

import (
	"github.com/alfredjeanlab/conntree/internal/crypto"
)

// sealKey names one sensitive column of one tblCons row.
type sealKey struct {
	id       string
	property string
}

type sealedValue struct {
	plain  string
	cipher string
}

// sealed remembers the ciphertexts last read or written, with the settings
// and password that produced them. Encryption is salted, so a value whose
// plaintext did not change keeps its stored ciphertext instead of being
// sealed again on every save.
type sealed struct {
	engine     crypto.Engine
	mode       crypto.Mode
	iterations int
	password   string
	protected  bool
	marker     string
	values     map[sealKey]sealedValue
}

func newSealed(p *crypto.Provider, password string, protected bool, marker string) *sealed {
	return &sealed{
		engine:     p.Engine(),
		mode:       p.Mode(),
		iterations: p.Iterations(),
		password:   password,
		protected:  protected,
		marker:     marker,
		values:     map[sealKey]sealedValue{},
	}
}

// matches reports whether ciphertexts in s can be read back with p and
// password.
func (s *sealed) matches(p *crypto.Provider, password string, protected bool) bool {
	return s != nil &&
		s.engine == p.Engine() &&
		s.mode == p.Mode() &&
		s.iterations == p.Iterations() &&
		s.password == password &&
		s.protected == protected
}

func (s *sealed) remember(id, property, plain, cipher string) {
	s.values[sealKey{id, property}] = sealedValue{plain: plain, cipher: cipher}
}

// lookup returns the stored ciphertext of plain, if it is unchanged.
func (s *sealed) lookup(id, property, plain string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[sealKey{id, property}]
	if !ok || v.plain != plain {
		return "", false
	}
	return v.cipher, true
}
