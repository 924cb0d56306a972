// Package passhash produces and verifies algorithm-tagged password hashes.
//
// Encodings follow the werkzeug layout so records written by other services
// sharing the credential store stay verifiable:
//
//	scrypt:<N>:<r>:<p>$<salt>$<hex>
//	pbkdf2:<digest>[:<iterations>]$<salt>$<hex>
//
// bcrypt hashes ($2a$, $2b$, $2y$) are also accepted. Anything else, including
// plaintext, is reported as unrecognized.
package passhash

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

const (
	MethodScrypt = "scrypt"
	MethodPBKDF2 = "pbkdf2"
	MethodBcrypt = "bcrypt"

	saltLength        = 16
	saltChars         = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	scryptN           = 32768
	scryptR           = 8
	scryptP           = 1
	scryptKeyLen      = 64
	pbkdf2Iterations  = 600000
	pbkdf2DefaultHash = "sha256"
)

var (
	ErrUnrecognized = errors.New("password hash algorithm not recognized")
	ErrMalformed    = errors.New("password hash is malformed")
)

// Recognized reports whether encoded carries a supported algorithm tag.
func Recognized(encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, "scrypt:"), strings.HasPrefix(encoded, "pbkdf2:"):
		return true
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return true
	default:
		return false
	}
}

// MaxPasswordBytes is the longest password method can hash, or 0 when there
// is no limit. bcrypt refuses anything past 72 bytes.
func MaxPasswordBytes(method string) int {
	if method == MethodBcrypt {
		return 72
	}
	return 0
}

// Hash returns a salted, tagged hash of password using method.
func Hash(password, method string) (string, error) {
	switch method {
	case MethodScrypt, "":
		salt, err := genSalt(saltLength)
		if err != nil {
			return "", err
		}
		sum, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
		if err != nil {
			return "", fmt.Errorf("scrypt: %w", err)
		}
		return fmt.Sprintf("scrypt:%d:%d:%d$%s$%s", scryptN, scryptR, scryptP, salt, hex.EncodeToString(sum)), nil
	case MethodPBKDF2:
		salt, err := genSalt(saltLength)
		if err != nil {
			return "", err
		}
		sum := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, sha256.Size, sha256.New)
		return fmt.Sprintf("pbkdf2:%s:%d$%s$%s", pbkdf2DefaultHash, pbkdf2Iterations, salt, hex.EncodeToString(sum)), nil
	case MethodBcrypt:
		sum, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("bcrypt: %w", err)
		}
		return string(sum), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnrecognized, method)
	}
}

// Verify checks password against encoded. A mismatch is (false, nil); an
// unsupported or unparsable hash is returned as an error.
func Verify(encoded, password string) (bool, error) {
	if !Recognized(encoded) {
		return false, ErrUnrecognized
	}

	if strings.HasPrefix(encoded, "$2") {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	parts := strings.SplitN(encoded, "$", 3)
	if len(parts) != 3 {
		return false, ErrMalformed
	}
	method, salt, want := parts[0], parts[1], parts[2]

	expected, err := hex.DecodeString(want)
	if err != nil || len(expected) == 0 {
		return false, ErrMalformed
	}

	got, err := derive(method, password, salt, len(expected))
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(got, expected) == 1, nil
}

func derive(method, password, salt string, keyLen int) ([]byte, error) {
	fields := strings.Split(method, ":")
	switch fields[0] {
	case MethodScrypt:
		if len(fields) != 4 {
			return nil, ErrMalformed
		}
		n, errN := strconv.Atoi(fields[1])
		r, errR := strconv.Atoi(fields[2])
		p, errP := strconv.Atoi(fields[3])
		if errN != nil || errR != nil || errP != nil {
			return nil, ErrMalformed
		}
		sum, err := scrypt.Key([]byte(password), []byte(salt), n, r, p, keyLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return sum, nil
	case MethodPBKDF2:
		if len(fields) < 2 || len(fields) > 3 {
			return nil, ErrMalformed
		}
		newHash, ok := digests[fields[1]]
		if !ok {
			return nil, fmt.Errorf("%w: digest %s", ErrUnrecognized, fields[1])
		}
		iterations := pbkdf2Iterations
		if len(fields) == 3 {
			parsed, err := strconv.Atoi(fields[2])
			if err != nil || parsed <= 0 {
				return nil, ErrMalformed
			}
			iterations = parsed
		}
		return pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLen, newHash), nil
	default:
		return nil, ErrUnrecognized
	}
}

var digests = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

func genSalt(length int) (string, error) {
	max := big.NewInt(int64(len(saltChars)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate salt: %w", err)
		}
		out[i] = saltChars[n.Int64()]
	}
	return string(out), nil
}
