package updatewindow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultSourceURL = "https://atagait.com/python-bin/updateData.json"

// Provider returns the current reference windows.
type Provider interface {
	Windows(ctx context.Context) (Windows, error)
}

type ProviderFunc func(ctx context.Context) (Windows, error)

func (f ProviderFunc) Windows(ctx context.Context) (Windows, error) { return f(ctx) }

// Static always returns ws.
func Static(ws Windows) Provider {
	return ProviderFunc(func(context.Context) (Windows, error) { return ws, nil })
}

// HTTPProvider fetches the JSON summary feed:
//
//	{"major":{"banana":1700000000,"packer":1700005400},"minor":{...}}
type HTTPProvider struct {
	URL       string
	UserAgent string
	Client    *http.Client
}

func (p *HTTPProvider) Windows(ctx context.Context) (Windows, error) {
	url := strings.TrimSpace(p.URL)
	if url == "" {
		url = DefaultSourceURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Windows{}, err
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Windows{}, fmt.Errorf("updatewindow: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Windows{}, fmt.Errorf("updatewindow: fetch %s: status %d", url, resp.StatusCode)
	}

	var raw map[string]*Window
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return Windows{}, fmt.Errorf("updatewindow: decode: %w", err)
	}
	major, minor := raw["major"], raw["minor"]
	if major == nil || minor == nil {
		return Windows{}, errors.New("updatewindow: feed lacks major or minor window")
	}
	return Windows{Major: *major, Minor: *minor}, nil
}
