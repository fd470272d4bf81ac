package audit

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const DefaultPwnedURL = "https://api.pwnedpasswords.com"

// PwnedClient queries a k-anonymity range API. Only the first five hex
// characters of a password's SHA-1 leave the process.
type PwnedClient struct {
	baseURL    string
	http       *http.Client
	delay      time.Duration
	maxRetries uint64
}

type PwnedOptions struct {
	HTTPClient *http.Client
	// Delay is the minimum gap between two range requests.
	Delay      time.Duration
	MaxRetries uint64
}

func NewPwnedClient(baseURL string, opts PwnedOptions) *PwnedClient {
	if baseURL == "" {
		baseURL = DefaultPwnedURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &PwnedClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       hc,
		delay:      opts.Delay,
		maxRetries: opts.MaxRetries,
	}
}

// Counts returns the breach count of every distinct non-empty password.
// Passwords sharing a hash prefix cost one request. Cancellation is
// honored between requests; counts gathered so far are returned with the
// error.
func (c *PwnedClient) Counts(ctx context.Context, passwords []string, progress func(done, total int)) (map[string]int, error) {
	type hashed struct{ prefix, suffix string }

	byPassword := make(map[string]hashed)
	var prefixes []string
	seen := make(map[string]bool)
	for _, p := range passwords {
		if p == "" {
			continue
		}
		if _, ok := byPassword[p]; ok {
			continue
		}
		sum := sha1.Sum([]byte(p))
		h := strings.ToUpper(hex.EncodeToString(sum[:]))
		byPassword[p] = hashed{prefix: h[:5], suffix: h[5:]}
		if !seen[h[:5]] {
			seen[h[:5]] = true
			prefixes = append(prefixes, h[:5])
		}
	}

	limit := rate.Inf
	if c.delay > 0 {
		limit = rate.Every(c.delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	// range cache lives for one call
	ranges := make(map[string]map[string]int, len(prefixes))
	var runErr error
	for i, prefix := range prefixes {
		if err := limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}
		r, err := c.fetchRange(ctx, prefix)
		if err != nil {
			runErr = err
			break
		}
		ranges[prefix] = r
		if progress != nil {
			progress(i+1, len(prefixes))
		}
	}

	counts := make(map[string]int, len(byPassword))
	for p, h := range byPassword {
		r, ok := ranges[h.prefix]
		if !ok {
			continue
		}
		counts[p] = r[h.suffix]
	}
	return counts, runErr
}

func (c *PwnedClient) fetchRange(ctx context.Context, prefix string) (map[string]int, error) {
	var out map[string]int
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/range/"+prefix, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Add-Padding", "true")
		req.Header.Set("User-Agent", "vaultkeeper")

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", common.ErrNetwork, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			herr := &common.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
			if common.Transient(herr) {
				return retry.RetryableError(herr)
			}
			return herr
		}
		out, err = parseRange(resp.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", prefix, err)
	}
	return out, nil
}

// parseRange reads "SUFFIX:COUNT" lines. Padding rows carry a zero count
// and are dropped.
func parseRange(r io.Reader) (map[string]int, error) {
	out := make(map[string]int)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		suffix, count, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed range line %q", line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return nil, fmt.Errorf("malformed range count %q", count)
		}
		if n == 0 {
			continue
		}
		out[strings.ToUpper(suffix)] = n
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	return out, nil
}
