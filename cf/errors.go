package cf

import (
	"errors"
	"fmt"
	"strings"
)

// CfChallengeError is returned when a Cloudflare challenge page is served
// instead of the requested document. Nothing is retried.
type CfChallengeError struct {
	URL        string
	StatusCode int
	RayID      string
	Indicators []string
}

func (e *CfChallengeError) Error() string {
	return fmt.Sprintf("cf_challenge: status=%d url=%s indicators=[%s]",
		e.StatusCode, e.URL, strings.Join(e.Indicators, ", "))
}

// IsChallenge checks if err wraps a CfChallengeError
func IsChallenge(err error) (*CfChallengeError, bool) {
	var cfErr *CfChallengeError
	if errors.As(err, &cfErr) {
		return cfErr, true
	}
	return nil, false
}
