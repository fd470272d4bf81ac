package audit

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rangeServer serves the range API for a fixed set of breached passwords.
type rangeServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string
	padding  []string
	fail     int
}

func newRangeServer(t *testing.T, breached map[string]int) *rangeServer {
	t.Helper()
	rs := &rangeServer{}
	byPrefix := make(map[string][]string)
	for p, n := range breached {
		sum := sha1.Sum([]byte(p))
		h := strings.ToUpper(hex.EncodeToString(sum[:]))
		byPrefix[h[:5]] = append(byPrefix[h[:5]], fmt.Sprintf("%s:%d", h[5:], n))
	}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := strings.TrimPrefix(r.URL.Path, "/range/")
		rs.mu.Lock()
		rs.requests = append(rs.requests, prefix)
		rs.padding = append(rs.padding, r.Header.Get("Add-Padding"))
		if rs.fail > 0 {
			rs.fail--
			rs.mu.Unlock()
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rs.mu.Unlock()

		lines := append([]string{"0000000000000000000000000000000000A:0"}, byPrefix[prefix]...)
		_, _ = fmt.Fprint(w, strings.Join(lines, "\r\n"))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *rangeServer) count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.requests)
}

func (rs *rangeServer) seen() (prefixes, padding []string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.requests...), append([]string(nil), rs.padding...)
}

func (rs *rangeServer) failNext(n int) {
	rs.mu.Lock()
	rs.fail = n
	rs.mu.Unlock()
}

func TestPwnedClient_CountsDistinctPasswords(t *testing.T) {
	rs := newRangeServer(t, map[string]int{"password": 3861493, "hunter2": 17})
	c := NewPwnedClient(rs.URL, PwnedOptions{})

	var calls int
	counts, err := c.Counts(context.Background(), []string{"password", "hunter2", "password", "", "unique-and-long-passphrase"}, func(done, total int) {
		calls++
		assert.LessOrEqual(t, done, total)
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"password": 3861493, "hunter2": 17, "unique-and-long-passphrase": 0}, counts)
	assert.Equal(t, 3, rs.count(), "one request per distinct prefix")
	assert.Equal(t, 3, calls)
	prefixes, padding := rs.seen()
	for _, p := range prefixes {
		assert.Len(t, p, 5, "only the prefix leaves the process")
	}
	for _, h := range padding {
		assert.Equal(t, "true", h)
	}
}

func TestPwnedClient_RetriesTransient(t *testing.T) {
	rs := newRangeServer(t, map[string]int{"password": 10})
	rs.failNext(1)
	c := NewPwnedClient(rs.URL, PwnedOptions{MaxRetries: 1})

	counts, err := c.Counts(context.Background(), []string{"password"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, counts["password"])
	assert.Equal(t, 2, rs.count())

	rs.failNext(5)
	_, err = c.Counts(context.Background(), []string{"password"}, nil)
	require.ErrorIs(t, err, common.ErrNetwork)
}

func TestPwnedClient_DelayBetweenRequests(t *testing.T) {
	rs := newRangeServer(t, nil)
	c := NewPwnedClient(rs.URL, PwnedOptions{Delay: 30 * time.Millisecond})

	start := time.Now()
	_, err := c.Counts(context.Background(), []string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestPwnedClient_CancelBetweenRequests(t *testing.T) {
	rs := newRangeServer(t, map[string]int{"a": 1})
	c := NewPwnedClient(rs.URL, PwnedOptions{Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	counts, err := c.Counts(ctx, []string{"a", "b"}, func(done, total int) { cancel() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rs.count())
	assert.Len(t, counts, 1, "first prefix is kept")
}

func TestParseRange(t *testing.T) {
	got, err := parseRange(strings.NewReader("abc:2\r\nDEF:0\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ABC": 2}, got)

	_, err = parseRange(strings.NewReader("garbage"))
	require.Error(t, err)
}
