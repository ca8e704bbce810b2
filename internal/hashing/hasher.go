package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"hongson-portal/internal/config"
	"hongson-portal/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrInvalidHash = errors.New("invalid hash format")
	ErrEmptySecret = errors.New("secret must not be empty")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type HashResult struct {
	Hash      string `json:"hash"`
	Salt      string `json:"salt"`
	Algorithm string `json:"algorithm"`
}

// Hasher verifies the admin secret and signs session tokens with it.
// The plaintext secret is only kept as a derived MAC key.
type Hasher struct {
	params     Argon2Params
	pepper     []byte
	secretHash *HashResult
	macKey     []byte
}

func NewHasher(cfg *config.Config) (*Hasher, error) {
	if cfg.Admin.SecretKey == "" {
		return nil, ErrEmptySecret
	}

	params := Argon2Params{
		Memory:      uint32(cfg.Admin.Argon2MemoryCost),
		Iterations:  uint32(cfg.Admin.Argon2TimeCost),
		Parallelism: uint8(cfg.Admin.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}

	pepper := make([]byte, 32)
	if _, err := rand.Read(pepper); err != nil {
		return nil, fmt.Errorf("failed to generate pepper: %w", err)
	}

	h := &Hasher{
		params: params,
		pepper: pepper,
	}

	secretHash, err := h.hash(cfg.Admin.SecretKey)
	if err != nil {
		return nil, err
	}
	h.secretHash = secretHash

	macKey := blake2b.Sum256([]byte("admin-session:" + cfg.Admin.SecretKey))
	h.macKey = macKey[:]

	util.Info("Admin secret hasher initialized",
		zap.Uint32("argon2_memory_kib", params.Memory),
		zap.Uint32("argon2_iterations", params.Iterations),
	)

	return h, nil
}

func (h *Hasher) hash(data string) (*HashResult, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(h.peppered(data), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return &HashResult{
		Hash:      base64.RawURLEncoding.EncodeToString(key),
		Salt:      base64.RawURLEncoding.EncodeToString(salt),
		Algorithm: "argon2id-v1",
	}, nil
}

func (h *Hasher) peppered(data string) []byte {
	out := make([]byte, 0, len(data)+len(h.pepper))
	out = append(out, data...)
	return append(out, h.pepper...)
}

// VerifySecret compares a login attempt against the configured admin secret
// in constant time.
func (h *Hasher) VerifySecret(candidate string) (bool, error) {
	salt, err := base64.RawURLEncoding.DecodeString(h.secretHash.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(h.secretHash.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey(h.peppered(candidate), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// Sign returns a hex keyed BLAKE2b-256 MAC of msg.
func (h *Hasher) Sign(msg string) string {
	mac, err := blake2b.New256(h.macKey)
	if err != nil {
		// only possible with a key longer than 64 bytes
		panic(err)
	}
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks sig against Sign(msg) in constant time.
func (h *Hasher) VerifySignature(msg, sig string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Sign(msg)), []byte(sig)) == 1
}
