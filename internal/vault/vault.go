package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	kidSize   = 4
	nonceSize = 12
	tagSize   = 16
	headerLen = kidSize + nonceSize + tagSize

	kidInfo = "acquiring/vault/kid/v1"
)

var (
	ErrKeyMissing = errors.New("vault_key_missing")
	ErrInvalidKey = errors.New("vault_key_invalid")
	// ErrDecryption covers malformed frames, unknown keys and tag mismatch alike.
	ErrDecryption = errors.New("decryption_failed")
)

type Config struct {
	Key          string
	PreviousKeys []string
}

type key struct {
	id   string
	aead cipher.AEAD
}

// Vault seals partner credentials with AES-256-GCM.
type Vault struct {
	log      *zap.Logger
	active   key
	previous []key
}

// New parses the configured keys. A missing or malformed active key is a
// startup error.
func New(cfg Config, log *zap.Logger) (*Vault, error) {
	if log == nil {
		log = zap.NewNop()
	}
	raw := strings.TrimSpace(cfg.Key)
	if raw == "" {
		return nil, ErrKeyMissing
	}
	active, err := newKey(raw)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		log:    log.Named("vault"),
		active: active,
	}
	for i, prev := range cfg.PreviousKeys {
		prev = strings.TrimSpace(prev)
		if prev == "" {
			continue
		}
		k, err := newKey(prev)
		if err != nil {
			return nil, fmt.Errorf("previous key %d: %w", i, err)
		}
		if k.id == active.id {
			continue
		}
		v.previous = append(v.previous, k)
	}

	v.log.Info("vault initialized",
		zap.String("kid", active.id),
		zap.Int("previous_keys", len(v.previous)),
	)
	return v, nil
}

// KeyID returns the identifier of the active key.
func (v *Vault) KeyID() string {
	return v.active.id
}

// Encrypt seals plaintext as base64(kid | nonce | tag | ciphertext).
// Empty input yields empty output.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := v.active.aead.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	kid, _ := hex.DecodeString(v.active.id)
	frame := make([]byte, 0, headerLen+len(ciphertext))
	frame = append(frame, kid...)
	frame = append(frame, nonce...)
	frame = append(frame, tag...)
	frame = append(frame, ciphertext...)

	return base64.StdEncoding.EncodeToString(frame), nil
}

// Decrypt opens a blob produced by Encrypt. Empty input yields empty output.
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	return v.decrypt("", blob)
}

// EncryptConfig seals a credential map.
func (v *Vault) EncryptConfig(config map[string]any) (string, error) {
	if len(config) == 0 {
		return "", nil
	}
	payload, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return v.Encrypt(payload)
}

// DecryptConfig opens a sealed credential map. ref identifies the stored
// config in logs.
func (v *Vault) DecryptConfig(ref string, blob string) (map[string]any, error) {
	plain, err := v.decrypt(ref, blob)
	if err != nil {
		return nil, err
	}
	if len(plain) == 0 {
		return nil, ErrDecryption
	}

	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil {
		v.log.Warn("decrypted config is not a json object", zap.String("config_ref", ref))
		return nil, ErrDecryption
	}
	return out, nil
}

func (v *Vault) decrypt(ref string, blob string) ([]byte, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return []byte{}, nil
	}

	frame, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(frame) < headerLen {
		v.log.Warn("malformed ciphertext", zap.String("config_ref", ref))
		return nil, ErrDecryption
	}

	kid := hex.EncodeToString(frame[:kidSize])
	nonce := frame[kidSize : kidSize+nonceSize]
	tag := frame[kidSize+nonceSize : headerLen]
	ciphertext := frame[headerLen:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	candidates := v.candidates(kid)
	if len(candidates) == 0 || candidates[0].id != kid {
		v.log.Warn("ciphertext key id does not match a configured key, trying available keys",
			zap.String("config_ref", ref),
			zap.String("kid", kid),
			zap.String("active_kid", v.active.id),
		)
	}

	for _, k := range candidates {
		plain, err := k.aead.Open(nil, nonce, sealed, nil)
		if err == nil {
			return plain, nil
		}
	}

	v.log.Warn("ciphertext authentication failed", zap.String("config_ref", ref), zap.String("kid", kid))
	return nil, ErrDecryption
}

// candidates orders keys so the one matching kid is tried first.
func (v *Vault) candidates(kid string) []key {
	all := append([]key{v.active}, v.previous...)
	for i, k := range all {
		if k.id == kid {
			ordered := []key{k}
			ordered = append(ordered, all[:i]...)
			return append(ordered, all[i+1:]...)
		}
	}
	return all
}

func newKey(raw string) (key, error) {
	material, err := parseKey(raw)
	if err != nil {
		return key{}, err
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return key{}, ErrInvalidKey
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return key{}, ErrInvalidKey
	}
	id, err := keyID(material)
	if err != nil {
		return key{}, err
	}
	return key{id: id, aead: aead}, nil
}

func parseKey(raw string) ([]byte, error) {
	if strings.HasPrefix(raw, "base64:") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, "base64:"))
		if err != nil || len(decoded) != keySize {
			return nil, ErrInvalidKey
		}
		return decoded, nil
	}
	if len(raw) == keySize*2 {
		if decoded, err := hex.DecodeString(raw); err == nil {
			return decoded, nil
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == keySize {
		return decoded, nil
	}
	if len(raw) == keySize {
		return []byte(raw), nil
	}
	return nil, ErrInvalidKey
}

func keyID(material []byte) (string, error) {
	out := make([]byte, kidSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(kidInfo)), out); err != nil {
		return "", err
	}
	return hex.EncodeToString(out), nil
}
