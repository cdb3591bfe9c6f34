package nsapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tagtimer/internal/dispatch"
	logx "tagtimer/pkg/logx"
)

const (
	DefaultBaseURL = "https://www.nationstates.net"

	// maxBody caps API shard responses. Dumps are streamed and not capped.
	maxBody = 32 << 20
)

type Config struct {
	BaseURL string
	User    string
	Contact string
	// Timeout bounds dump downloads. API calls are bounded by the
	// dispatch scheduler's call timeout.
	Timeout time.Duration
}

// Client performs raw HTTP calls against the API. It implements
// dispatch.Executor so a Scheduler can drive it.
type Client struct {
	http    *http.Client
	base    *url.URL
	agent   string
	timeout time.Duration
	maxBody int64
	log     logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("nsapi: invalid base url %q", raw)
	}
	if strings.TrimSpace(cfg.User) == "" {
		return nil, errors.New("nsapi: user is required for the user agent")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		http:    &http.Client{},
		base:    base,
		agent:   UserAgent(cfg.Contact, cfg.User),
		timeout: timeout,
		maxBody: maxBody,
		log:     log.With(logx.String("comp", "nsapi")),
	}, nil
}

// UserAgent identifies the tool and the nation operating it, as the API
// rules require.
func UserAgent(contact, user string) string {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return "tagtimer | Current User : " + strings.TrimSpace(user)
	}
	return "tagtimer - " + contact + " | Current User : " + strings.TrimSpace(user)
}

func (c *Client) UserAgent() string { return c.agent }

// Resolve turns a target into an absolute URL. Targets starting with "/"
// are relative to the base URL.
func (c *Client) Resolve(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimRight(c.base.String(), "/") + target
	}
	return target
}

// Execute fetches t.Target. It satisfies dispatch.Executor.
func (c *Client) Execute(ctx context.Context, t *dispatch.Ticket) ([]byte, error) {
	return c.Get(ctx, t.Target)
}

func (c *Client) Get(ctx context.Context, target string) ([]byte, error) {
	resp, err := c.do(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("nsapi: %s: read body: %w", target, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, target, c.maxBody)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Resolve(target), nil)
	if err != nil {
		return nil, fmt.Errorf("nsapi: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.agent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nsapi: %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &StatusError{
			Code:       resp.StatusCode,
			Target:     target,
			RetryAfter: retryAfter(resp.Header),
			Body:       strings.TrimSpace(string(body)),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			c.log.Warn("rate limited by api", logx.String("target", target), logx.Duration("retry_after", se.RetryAfter))
		}
		return nil, se
	}
	return resp, nil
}

// Download streams target into dest while holding guard, so no API call
// overlaps the transfer. The file is written to a temp name and renamed.
func (c *Client) Download(ctx context.Context, target, dest string, guard *dispatch.Guard) error {
	release, err := guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.do(ctx, target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return err
	}
	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("nsapi: download %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	c.log.Info("dump downloaded", logx.String("target", target), logx.String("dest", dest),
		logx.Int64("bytes", n), logx.Duration("took", time.Since(start)))
	return nil
}
