// Package crypto encrypts individual values and whole documents with a key
// derived from the master password, and verifies candidate passwords.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/twofish"
)

// ErrDecryptionFailed is returned when a ciphertext cannot be opened with
// the given password: wrong key, corrupt data, or a value that was never
// encrypted.
var ErrDecryptionFailed = errors.New("decryption failed")

// Engine is the block cipher (or stream cipher) used for encryption.
type Engine string

const (
	EngineAES      Engine = "AES"
	EngineTwofish  Engine = "Twofish"
	EngineChaCha20 Engine = "ChaCha20"
)

// Mode is the authenticated mode the engine runs in.
type Mode string

const (
	ModeGCM      Mode = "GCM"
	ModePoly1305 Mode = "Poly1305"
)

// gcmNonceSize matches the 128-bit nonce written by existing documents.
const gcmNonceSize = 16

// Provider encrypts strings with an AEAD built from Engine and Mode. The
// output is base64(salt || nonce || sealed); the salt doubles as additional
// authenticated data.
type Provider struct {
	engine     Engine
	mode       Mode
	iterations int
}

// NewProvider validates the engine/mode pair and iteration count.
func NewProvider(engine Engine, mode Mode, iterations int) (*Provider, error) {
	switch {
	case (engine == EngineAES || engine == EngineTwofish) && mode == ModeGCM:
	case engine == EngineChaCha20 && mode == ModePoly1305:
	default:
		return nil, fmt.Errorf("unsupported cipher %s/%s", engine, mode)
	}
	if iterations < MinKdfIterations {
		return nil, fmt.Errorf("kdf iterations must be at least %d, got %d", MinKdfIterations, iterations)
	}
	return &Provider{engine: engine, mode: mode, iterations: iterations}, nil
}

// DefaultProvider returns AES-GCM with the default iteration count.
func DefaultProvider() *Provider {
	return &Provider{engine: EngineAES, mode: ModeGCM, iterations: DefaultKdfIterations}
}

// ProviderFromSettings builds a provider from stored or configured text
// values. Empty values fall back to AES, GCM and DefaultKdfIterations.
func ProviderFromSettings(engine, mode, iterations string) (*Provider, error) {
	e, m, n := EngineAES, ModeGCM, DefaultKdfIterations
	var err error
	if engine != "" {
		if e, err = ParseEngine(engine); err != nil {
			return nil, err
		}
	}
	if mode != "" {
		if m, err = ParseMode(mode); err != nil {
			return nil, err
		}
	}
	if iterations != "" {
		if n, err = strconv.Atoi(iterations); err != nil {
			return nil, fmt.Errorf("kdf iterations: %w", err)
		}
	}
	return NewProvider(e, m, n)
}

// ParseEngine maps a stored engine name, case-insensitively.
func ParseEngine(s string) (Engine, error) {
	for _, e := range []Engine{EngineAES, EngineTwofish, EngineChaCha20} {
		if strings.EqualFold(s, string(e)) {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown encryption engine %q", s)
}

// ParseMode maps a stored mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeGCM, ModePoly1305} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown block cipher mode %q", s)
}

// Engine returns the configured engine.
func (p *Provider) Engine() Engine { return p.engine }

// Mode returns the configured mode.
func (p *Provider) Mode() Mode { return p.mode }

// Iterations returns the key-derivation iteration count.
func (p *Provider) Iterations() int { return p.iterations }

func (p *Provider) aead(key []byte) (cipher.AEAD, error) {
	switch p.engine {
	case EngineAES:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	case EngineTwofish:
		block, err := twofish.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	case EngineChaCha20:
		return chacha20poly1305.NewX(key)
	}
	return nil, fmt.Errorf("unsupported engine %s", p.engine)
}

// Encrypt seals plaintext with a key derived from password and a fresh
// salt. An empty plaintext encrypts to an empty string.
func (p *Provider) Encrypt(plaintext, password string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	aead, err := p.aead(DeriveKey(password, salt, p.iterations))
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), salt)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt. Every failure wraps
// ErrDecryptionFailed. An empty ciphertext decrypts to an empty string.
func (p *Provider) Decrypt(ciphertext, password string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrDecryptionFailed)
	}
	if len(raw) < SaltSize {
		return "", fmt.Errorf("%w: payload too short", ErrDecryptionFailed)
	}
	salt := raw[:SaltSize]
	aead, err := p.aead(DeriveKey(password, salt, p.iterations))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(raw) < SaltSize+aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: payload too short", ErrDecryptionFailed)
	}
	nonce := raw[SaltSize : SaltSize+aead.NonceSize()]
	sealed := raw[SaltSize+aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plain), nil
}

// DecryptOrRaw decrypts ciphertext, falling back to the raw value when it
// cannot be decrypted. Use it for fields that may have been stored in
// cleartext.
func (p *Provider) DecryptOrRaw(ciphertext, password string) string {
	plain, err := p.Decrypt(ciphertext, password)
	if err != nil {
		return ciphertext
	}
	return plain
}
