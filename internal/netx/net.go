// Package netx builds the HTTP client shared by the remote vault client and
// the breach checker.
package netx

import (
	"net"
	"net/http"
	"time"
)

// UserAgent is sent on every request made through NewClient.
const UserAgent = "vaultkeeper"

// NewClient returns a client with an overall request timeout and its own
// transport, so idle connections are not shared with http.DefaultClient.
func NewClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.MaxIdleConnsPerHost = 4
	return &http.Client{
		Timeout:   timeout,
		Transport: userAgent{next: tr},
	}
}

type userAgent struct {
	next http.RoundTripper
}

func (u userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", UserAgent)
	}
	return u.next.RoundTrip(r)
}
