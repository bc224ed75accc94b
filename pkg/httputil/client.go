package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every outbound provider call. A call that exceeds it
// is reported as a transport error to the caller, never left hanging.
const DefaultTimeout = 10 * time.Second

// NewClient returns a resty client with the shared defaults applied.
func NewClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json")
}
