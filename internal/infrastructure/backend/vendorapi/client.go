// Package vendorapi carries the HTTP plumbing shared by the remote
// extraction backends: a client pair for verified and
// certificate-validation-disabled requests, status errors, and the error
// classification fed to the retry engine.
package vendorapi

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Doer holds two HTTP clients sharing one timeout. The insecure client
// exists solely for the retry engine's certificate-validation fallback and
// is never picked implicitly.
type Doer struct {
	verified *http.Client
	insecure *http.Client
}

func NewDoer(timeout time.Duration) *Doer {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Doer{
		verified: &http.Client{Timeout: timeout},
		insecure: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (d *Doer) Do(req *http.Request, insecure bool) (*http.Response, error) {
	if insecure {
		return d.insecure.Do(req)
	}
	return d.verified.Do(req)
}

// HTTPStatusError is a non-2xx vendor answer with a captured body excerpt.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "vendor status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// CheckStatus consumes the body on failure and returns an HTTPStatusError
// for any status outside [200, 300). The caller still owns resp.Body on
// success.
func CheckStatus(resp *http.Response, operation string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}
