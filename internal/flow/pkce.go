package flow

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"regexp"
)

// PKCE code challenge methods (RFC 7636)
const (
	ChallengeMethodS256  = "S256"
	ChallengeMethodPlain = "plain"
)

// RFC 7636 section 4.1: 43 to 128 unreserved characters
var pkcePattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

func validChallengeMethod(method string) bool {
	return method == ChallengeMethodS256 || method == ChallengeMethodPlain
}

// ValidChallenge reports whether s is a well-formed challenge or verifier
func ValidChallenge(s string) bool {
	return pkcePattern.MatchString(s)
}

// S256Challenge derives the S256 code challenge for a verifier
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeVerifier checks verifier against the stored challenge.
// An empty method means plain.
func VerifyCodeVerifier(challenge, method, verifier string) bool {
	if challenge == "" || !ValidChallenge(verifier) {
		return false
	}

	var computed string
	switch method {
	case ChallengeMethodS256:
		computed = S256Challenge(verifier)
	case ChallengeMethodPlain, "":
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
