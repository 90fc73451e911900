package fetcher

import (
	"fmt"

	"github.com/sells-group/supervisor-finder/internal/resilience"
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindHTTP4xx ErrorKind = "http4xx"
	KindHTTP5xx ErrorKind = "http5xx"
	KindBlocked ErrorKind = "blocked"
	KindInvalid ErrorKind = "invalid_url"
)

// FetchError is returned when a page cannot be fetched.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Block      BlockType
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == KindBlocked:
		return fmt.Sprintf("fetch %s: blocked (%s, status %d)", e.URL, e.Block, e.StatusCode)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: %s status %d", e.URL, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindHTTP4xx, KindHTTP5xx:
		return resilience.IsTransientHTTPStatus(e.StatusCode)
	default:
		return false
	}
}
