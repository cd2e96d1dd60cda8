package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/pkg/errors"
)

// Raw token prefixes. They make leaked credentials easy to identify and let the
// resolver reject the wrong kind of token before a storage round trip.
const (
	AccessTokenPrefix   = "skl_at_"
	RefreshTokenPrefix  = "skl_rt_"
	PersonalTokenPrefix = "skl_pat_"
	AuthCodePrefix      = "skl_ac_"
)

const (
	opaqueTokenBytes = 32
	deviceCodeBytes  = 32 // 64 hex characters
	displayPrefixLen = 4

	// No 0/O or 1/I. 32 symbols, so masking a random byte with 31 is unbiased.
	userCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	userCodeLength   = 8
)

// Hash returns the hex encoded SHA-256 of a raw secret. Only hashes are persisted.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewOpaque generates a prefixed bearer secret and its storage hash.
func NewOpaque(prefix string) (raw string, hash string, err error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", errors.Wrap(err, "token.NewOpaque rand.Read")
	}
	raw = prefix + base64.RawURLEncoding.EncodeToString(b)
	return raw, Hash(raw), nil
}

// NewDeviceCode generates the 64 character device code polled by a CLI.
func NewDeviceCode() (raw string, hash string, err error) {
	b := make([]byte, deviceCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", errors.Wrap(err, "token.NewDeviceCode rand.Read")
	}
	raw = hex.EncodeToString(b)
	return raw, Hash(raw), nil
}

// NewUserCode generates a human friendly code formatted XXXX-XXXX.
func NewUserCode() (string, error) {
	b := make([]byte, userCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "token.NewUserCode rand.Read")
	}
	code := make([]byte, userCodeLength)
	for i := range b {
		code[i] = userCodeAlphabet[b[i]&31]
	}
	return formatUserCode(string(code)), nil
}

// NewState generates an unguessable URL safe value for redirect round trips.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "token.NewState rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NormalizeUserCode accepts user typed input ("abcd efgh", "ABCDEFGH", "abcd-efgh")
// and returns the canonical XXXX-XXXX form.
func NormalizeUserCode(input string) (string, error) {
	var sb strings.Builder
	for _, r := range strings.ToUpper(input) {
		if r == '-' || r == ' ' {
			continue
		}
		if !strings.ContainsRune(userCodeAlphabet, r) {
			return "", autherrors.Wrapf(autherrors.ErrInvalidInput, "user code contains %q", r)
		}
		sb.WriteRune(r)
	}
	if sb.Len() != userCodeLength {
		return "", autherrors.Wrapf(autherrors.ErrInvalidInput, "user code must have %d characters", userCodeLength)
	}
	return formatUserCode(sb.String()), nil
}

// DisplayPrefix returns the non secret part of a raw token shown in token listings.
func DisplayPrefix(raw string) string {
	for _, p := range []string{PersonalTokenPrefix, AccessTokenPrefix, RefreshTokenPrefix, AuthCodePrefix} {
		if strings.HasPrefix(raw, p) && len(raw) >= len(p)+displayPrefixLen {
			return raw[:len(p)+displayPrefixLen]
		}
	}
	if len(raw) < displayPrefixLen {
		return raw
	}
	return raw[:displayPrefixLen]
}

func formatUserCode(code string) string {
	return code[:4] + "-" + code[4:]
}
