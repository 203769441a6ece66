package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2idParams defines the tuning parameters for Argon2id hashing.
type Argon2idParams struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength uint32
}

// DefaultParams are used by HashPassword.
var DefaultParams = Argon2idParams{
	Time:       1,
	Memory:     64 * 1024,
	Threads:    4,
	KeyLength:  32,
	SaltLength: 16,
}

// ErrUnsupportedHash is returned for hashes that are neither Argon2id nor bcrypt.
var ErrUnsupportedHash = errors.New("unsupported password hash")

// HashPassword hashes plain with Argon2id using DefaultParams.
func HashPassword(plain string) (string, error) {
	return HashArgon2id(plain, DefaultParams)
}

// HashArgon2id hashes value with the given parameters. Zero fields fall back
// to DefaultParams.
func HashArgon2id(value string, params Argon2idParams) (string, error) {
	if params.Time == 0 {
		params.Time = DefaultParams.Time
	}
	if params.Memory == 0 {
		params.Memory = DefaultParams.Memory
	}
	if params.Threads == 0 {
		params.Threads = DefaultParams.Threads
	}
	if params.KeyLength == 0 {
		params.KeyLength = DefaultParams.KeyLength
	}
	if params.SaltLength == 0 {
		params.SaltLength = DefaultParams.SaltLength
	}

	salt := make([]byte, int(params.SaltLength))
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(value), salt, params.Time, params.Memory, params.Threads, params.KeyLength)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Time, params.Memory, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// ValidateHash checks that encoded is a hash VerifyPassword understands.
func ValidateHash(encoded string) error {
	switch {
	case strings.HasPrefix(encoded, "argon2id$"):
		_, err := decodeArgon2id(encoded)
		return err
	case isBcrypt(encoded):
		_, err := bcrypt.Cost([]byte(encoded))
		return err
	default:
		return ErrUnsupportedHash
	}
}

// VerifyPassword compares plain against an Argon2id or bcrypt hash.
func VerifyPassword(plain, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return err == nil, err
	}
	decoded, err := decodeArgon2id(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(plain), decoded.salt,
		decoded.params.Time, decoded.params.Memory, decoded.params.Threads, uint32(len(decoded.hash)))
	return subtle.ConstantTimeCompare(computed, decoded.hash) == 1, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

type decodedHash struct {
	params Argon2idParams
	salt   []byte
	hash   []byte
}

func decodeArgon2id(encoded string) (decodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return decodedHash{}, fmt.Errorf("%w: invalid hash format", ErrUnsupportedHash)
	}
	if parts[0] != "argon2id" {
		return decodedHash{}, fmt.Errorf("%w: %s", ErrUnsupportedHash, parts[0])
	}
	timeValue, err := parseUint32(parts[1])
	if err != nil {
		return decodedHash{}, fmt.Errorf("invalid time parameter: %w", err)
	}
	memoryValue, err := parseUint32(parts[2])
	if err != nil {
		return decodedHash{}, fmt.Errorf("invalid memory parameter: %w", err)
	}
	threadsValue, err := parseUint32(parts[3])
	if err != nil {
		return decodedHash{}, fmt.Errorf("invalid threads parameter: %w", err)
	}
	if threadsValue == 0 || threadsValue > 255 {
		return decodedHash{}, errors.New("invalid thread count: must be between 1 and 255")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return decodedHash{}, fmt.Errorf("decode salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return decodedHash{}, fmt.Errorf("decode hash: %w", err)
	}
	if len(hash) == 0 {
		return decodedHash{}, errors.New("empty hash")
	}
	return decodedHash{
		params: Argon2idParams{Time: timeValue, Memory: memoryValue, Threads: uint8(threadsValue)},
		salt:   salt,
		hash:   hash,
	}, nil
}

func parseUint32(value string) (uint32, error) {
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(parsed), nil
}
