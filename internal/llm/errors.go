package llm

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
)

// ErrNoCredentials means no usable credential could be resolved from
// any source. Terminal: the user has to add a key, retrying cannot
// help.
var ErrNoCredentials = errors.New("API key is missing")

// Kind classifies a failed generation attempt.
type Kind int

const (
	// KindRetryable covers rate limits, quota exhaustion, and overload
	// signals. The dispatcher advances to the next credential.
	KindRetryable Kind = iota
	// KindInvalidCredential covers malformed or rejected credentials.
	// Bad keys are skipped automatically, same as retryable failures.
	KindInvalidCredential
	// KindContent covers everything else: safety refusals, malformed
	// responses, opaque provider errors. The cascade still advances on
	// the theory that a different model or credential might succeed.
	KindContent
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindInvalidCredential:
		return "invalid_credential"
	default:
		return "content"
	}
}

// ExhaustionError means every (model, credential) pair failed.
type ExhaustionError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("all models and keys exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustionError) Unwrap() error { return e.LastErr }

// Classify maps a failed attempt to its Kind. Transport status codes
// are authoritative; message-substring matching is the last-resort
// fallback for opaque errors and lives only here.
func Classify(err error) Kind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 429, 503:
			return KindRetryable
		case 400, 403:
			return KindInvalidCredential
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "exhausted"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "rate limit"):
		return KindRetryable
	case strings.Contains(msg, "api key not valid"),
		strings.Contains(msg, "permission denied"):
		return KindInvalidCredential
	}
	return KindContent
}

// IsRateLimited reports whether err is, or wraps via exhaustion, a
// rate-limit or quota failure. Callers use it to steer the user toward
// adding or rotating credentials instead of retrying blindly.
func IsRateLimited(err error) bool {
	var ex *ExhaustionError
	if errors.As(err, &ex) && ex.LastErr != nil {
		return Classify(ex.LastErr) == KindRetryable
	}
	if err == nil {
		return false
	}
	return Classify(err) == KindRetryable
}
