package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/decent-stuff/decent-cloud/infrastructure/httputil"
)

// PeerClient drives the client side of the pull-sync protocol against a
// remote replica's HTTP surface, applying received segments to a local
// ledger store until the peer reports no more data.
type PeerClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewPeerClient builds a PeerClient targeting baseURL (e.g.
// "https://peer.example.com"). The client enforces TLS 1.2+ and a
// request timeout, matching the conventions the rest of the service uses
// for outbound calls.
func NewPeerClient(baseURL string, timeout time.Duration) (*PeerClient, error) {
	defaults := httputil.DefaultClientDefaults()
	if timeout > 0 {
		defaults.Timeout = timeout
	}
	client, normalized, err := httputil.NewClientWithBaseURL(httputil.ClientConfig{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Transport: httputil.DefaultTransportWithMinTLS12()},
	}, defaults)
	if err != nil {
		return nil, fmt.Errorf("sync: build peer client: %w", err)
	}
	return &PeerClient{httpClient: client, baseURL: normalized}, nil
}

type pullResponse struct {
	Data   string `json:"data"`
	Cursor string `json:"cursor"`
	More   bool   `json:"more"`
}

// Replicate drives pull-sync to completion: starting from an empty cursor,
// it repeatedly fetches segments from the peer's /sync/pull endpoint and
// hands each decoded segment to apply, until the peer's cursor clears its
// More flag.
func (c *PeerClient) Replicate(ctx context.Context, apply func(offset uint64, data []byte) error) error {
	cur := Cursor{}
	for {
		data, next, err := c.pullOnce(ctx, cur)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if err := apply(cur.Position, data); err != nil {
				return fmt.Errorf("sync: apply segment at offset %d: %w", cur.Position, err)
			}
		}
		if !next.More {
			return nil
		}
		cur = next
	}
}

func (c *PeerClient) pullOnce(ctx context.Context, cur Cursor) ([]byte, Cursor, error) {
	q := url.Values{}
	q.Set("cursor", cur.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sync/pull?"+q.Encode(), nil)
	if err != nil {
		return nil, Cursor{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Cursor{}, fmt.Errorf("sync: pull request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, Cursor{}, fmt.Errorf("sync: peer returned status %s", resp.Status)
	}

	var parsed pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, Cursor{}, fmt.Errorf("sync: decode pull response: %w", err)
	}
	next, err := ParseCursor(parsed.Cursor)
	if err != nil {
		return nil, Cursor{}, err
	}
	var data []byte
	if parsed.Data != "" {
		data, err = base64.StdEncoding.DecodeString(parsed.Data)
		if err != nil {
			return nil, Cursor{}, fmt.Errorf("sync: decode segment data: %w", err)
		}
	}
	return data, next, nil
}
