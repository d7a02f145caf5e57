package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Default Argon2id cost (OWASP): 64 MiB, 3 passes, one lane.
const (
	defaultMemory  = 64 * 1024
	defaultPasses  = 3
	defaultThreads = 1

	saltLen = 16
	keyLen  = 32
)

var errBadHash = errors.New("malformed argon2id hash")

var b64 = base64.RawStdEncoding

// argonCost is the tunable part of an Argon2id hash.
type argonCost struct {
	memory  uint32 // KiB
	passes  uint32
	threads uint8
}

// phcHash is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type phcHash struct {
	cost argonCost
	salt []byte
	key  []byte
}

func (p phcHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.cost.memory, p.cost.passes, p.cost.threads,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func parsePHC(s string) (phcHash, error) {
	var p phcHash

	// Leading "$" yields an empty first field.
	f := strings.Split(s, "$")
	if len(f) != 6 || f[0] != "" || f[1] != "argon2id" {
		return p, errBadHash
	}

	var v int
	if _, err := fmt.Sscanf(f[2], "v=%d", &v); err != nil || v != argon2.Version {
		return p, fmt.Errorf("%w: version %q", errBadHash, f[2])
	}
	if _, err := fmt.Sscanf(f[3], "m=%d,t=%d,p=%d", &p.cost.memory, &p.cost.passes, &p.cost.threads); err != nil {
		return p, fmt.Errorf("%w: parameters %q", errBadHash, f[3])
	}

	var err error
	if p.salt, err = b64.DecodeString(f[4]); err != nil {
		return p, fmt.Errorf("%w: salt: %w", errBadHash, err)
	}
	if p.key, err = b64.DecodeString(f[5]); err != nil || len(p.key) == 0 {
		return p, fmt.Errorf("%w: key", errBadHash)
	}
	return p, nil
}

// Hasher hashes and verifies passwords with Argon2id. Verification reads the
// cost from the stored hash, so retuning the Hasher never locks anyone out.
type Hasher struct {
	cost argonCost
}

// NewHasher returns a Hasher with the given cost. Zero arguments keep the
// default for that parameter.
func NewHasher(memory, iterations uint32, parallelism uint8) *Hasher {
	c := argonCost{memory: defaultMemory, passes: defaultPasses, threads: defaultThreads}
	if memory > 0 {
		c.memory = memory
	}
	if iterations > 0 {
		c.passes = iterations
	}
	if parallelism > 0 {
		c.threads = parallelism
	}
	return &Hasher{cost: c}
}

// DefaultHasher returns a Hasher with the default cost.
func DefaultHasher() *Hasher {
	return NewHasher(0, 0, 0)
}

// Hash derives a fresh salted hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.cost.passes, h.cost.memory, h.cost.threads, keyLen)
	return phcHash{cost: h.cost, salt: salt, key: key}.String(), nil
}

// Verify reports whether password matches encoded. A malformed encoded
// value is an error, not a mismatch.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), p.salt, p.cost.passes, p.cost.memory, p.cost.threads,
		uint32(len(p.key))) //nolint:gosec // key length is small
	return subtle.ConstantTimeCompare(p.key, got) == 1, nil
}

// NeedsRehash reports whether encoded was produced with a cost other than
// the Hasher's current one.
func (h *Hasher) NeedsRehash(encoded string) bool {
	p, err := parsePHC(encoded)
	return err != nil || p.cost != h.cost
}
