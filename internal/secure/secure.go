// Package secure holds the cryptographic primitives used by the handshake and
// activation protocols. Every derived value is hex encoded so it can be stored
// in text columns and compared with ConstantTimeEquals.
package secure

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

// DefaultIterations is the PBKDF2 work factor used when configuration does not set one.
const DefaultIterations = 10000

const (
	derivedKeyLength = 32
	tokenAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	keyAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NormalizeDomain reduces scheme, "www." and case variants of a host to one form.
// "https://WWW.Example.com/" and "example.com" both normalize to "example.com".
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if idx := strings.IndexAny(d, "/?#"); idx >= 0 {
		d = d[:idx]
	}
	return strings.TrimSpace(d)
}

// RandomHex returns nBytes of crypto/rand output, hex encoded.
func RandomHex(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", fmt.Errorf("random hex: invalid length %d", nBytes)
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random hex: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RandomToken returns an alphanumeric token of the given length.
func RandomToken(length int) (string, error) {
	return randomFrom(tokenAlphabet, length)
}

// RandomLicenseKey returns a key shaped XXXXX-XXXXX-XXXXX-XXXXX-XXXXX using an
// alphabet without the easily confused 0/O and 1/I.
func RandomLicenseKey() (string, error) {
	raw, err := randomFrom(keyAlphabet, 25)
	if err != nil {
		return "", err
	}
	groups := make([]string, 0, 5)
	for i := 0; i < len(raw); i += 5 {
		groups = append(groups, raw[i:i+5])
	}
	return strings.Join(groups, "-"), nil
}

func randomFrom(alphabet string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("random token: invalid length %d", length)
	}
	limit := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("random token: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// DeriveHash is PBKDF2-HMAC-SHA256 over secret and salt. Re-verification must
// use the salt and iteration count stored with the record.
func DeriveHash(secret, salt string, iterations int) string {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	key := pbkdf2.Key([]byte(secret), []byte(salt), iterations, derivedKeyLength, sha256.New)
	return hex.EncodeToString(key)
}

// HMACSHA256 returns hex(HMAC-SHA256(message, key)).
func HMACSHA256(message, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACSHA3512 returns hex(HMAC-SHA3-512(message, key)).
func HMACSHA3512(message, key string) string {
	mac := hmac.New(sha3.New512, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// SHA256Hex returns the hex SHA-256 digest of payload.
func SHA256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares a derived value with a stored one without
// leaking the position of the first difference.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NormalizeLicenseKey trims and upper-cases a key as typed by a user.
func NormalizeLicenseKey(licenseKey string) string {
	return strings.ToUpper(strings.TrimSpace(licenseKey))
}

// LicenseKeyDisplay is the non-secret prefix shown in UIs and used to narrow
// lookups before the PBKDF2 hash is checked.
func LicenseKeyDisplay(licenseKey string) string {
	key := NormalizeLicenseKey(licenseKey)
	if len(key) > 8 {
		key = key[:8]
	}
	return key + "..."
}

// RequestSignature signs an authenticated system request. The canonical string
// is METHOD, PATH, TIMESTAMP, hex(SHA-256(body)) and the system's HMAC salt,
// joined by newlines.
func RequestSignature(method, path, timestamp string, body []byte, hmacSalt, apiSecret string) string {
	canonical := strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		SHA256Hex(body),
		hmacSalt,
	}, "\n")
	return HMACSHA256(canonical, apiSecret)
}
