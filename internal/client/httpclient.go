// Package client implements the mesh member's side of the system: talking
// to the coordinator's API, reconciling the local WireGuard interface
// against the fetched state, maintaining the pinned peer/CIDR cache, NAT
// traversal, and the hosts-file side effect.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

// APIClient talks to a single coordinator over its internal endpoint,
// presenting the network public key on every request. Grounded on the
// teacher's caddy.HTTPClient (a small, purpose-built client over the
// stdlib http.Client rather than a generated SDK).
type APIClient struct {
	httpClient      *http.Client
	baseURL         string
	networkPubkey   string
}

// NewAPIClient builds a client talking to baseURL (the coordinator's
// internal endpoint, e.g. "http://10.42.0.1:8080").
func NewAPIClient(baseURL, networkPubkey string) *APIClient {
	return &APIClient{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		baseURL:       baseURL,
		networkPubkey: networkPubkey,
	}
}

// NewAPIClientWithHTTPClient lets tests substitute a client wired to an
// httptest.Server.
func NewAPIClientWithHTTPClient(httpClient *http.Client, baseURL, networkPubkey string) *APIClient {
	return &APIClient{httpClient: httpClient, baseURL: baseURL, networkPubkey: networkPubkey}
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Network-Pubkey", c.networkPubkey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: coordinator returned %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: coordinator returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response from %s %s: %w", method, path, err)
	}
	return nil
}

// StateResponse mirrors the coordinator's /v1/state payload.
type StateResponse struct {
	Peers []meshnet.Peer `json:"peers"`
	CIDRs []meshnet.CIDR `json:"cidrs"`
}

// Redeem exchanges an invitation's placeholder key for publicKey, the
// locally generated keypair's public half.
func (c *APIClient) Redeem(ctx context.Context, publicKey string) (meshnet.Peer, error) {
	var out meshnet.Peer
	err := c.do(ctx, http.MethodPost, "/v1/redeem", map[string]string{"public_key": publicKey}, &out)
	return out, err
}

// State fetches the caller's visibility-filtered peer list and the full
// CIDR set.
func (c *APIClient) State(ctx context.Context) (StateResponse, error) {
	var out StateResponse
	err := c.do(ctx, http.MethodGet, "/v1/state", nil, &out)
	return out, err
}

// ReportCandidates reports endpoint addresses the caller has observed for
// itself.
func (c *APIClient) ReportCandidates(ctx context.Context, candidates []string) error {
	return c.do(ctx, http.MethodPost, "/v1/candidates", map[string][]string{"candidates": candidates}, nil)
}

// OverrideEndpoint sets (or, with an empty string, clears) the caller's
// declared endpoint.
func (c *APIClient) OverrideEndpoint(ctx context.Context, endpoint string) error {
	var ep *string
	if endpoint != "" {
		ep = &endpoint
	}
	return c.do(ctx, http.MethodPost, "/v1/endpoint", map[string]*string{"endpoint": ep}, nil)
}

// Admin operations, used by meshnetctl's admin subcommands.

func (c *APIClient) CreatePeer(ctx context.Context, req interface{}) (meshnet.Peer, error) {
	var out meshnet.Peer
	err := c.do(ctx, http.MethodPost, "/v1/admin/peers", req, &out)
	return out, err
}

func (c *APIClient) ListPeers(ctx context.Context) ([]meshnet.Peer, error) {
	var out []meshnet.Peer
	err := c.do(ctx, http.MethodGet, "/v1/admin/peers", nil, &out)
	return out, err
}

// RenamePeer fetches the peer's current fields and re-submits them with
// Name replaced — the update endpoint takes the full mutable field set
// at once, so a rename must preserve the admin/disabled flags and
// endpoint it didn't mean to touch.
func (c *APIClient) RenamePeer(ctx context.Context, id int64, name string) error {
	peers, err := c.ListPeers(ctx)
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}
	for _, p := range peers {
		if p.ID != id {
			continue
		}
		var endpoint *string
		if p.Endpoint != nil {
			s := p.Endpoint.String()
			endpoint = &s
		}
		return c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/admin/peers/%d", id), map[string]any{
			"name": name, "endpoint": endpoint, "is_admin": p.IsAdmin, "is_disabled": p.IsDisabled,
		}, nil)
	}
	return fmt.Errorf("no peer with id %d", id)
}

func (c *APIClient) SetPeerDisabled(ctx context.Context, id int64, disabled bool) error {
	action := "enable"
	if disabled {
		action = "disable"
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/peers/%d/%s", id, action), nil, nil)
}

func (c *APIClient) CreateCIDR(ctx context.Context, req interface{}) (meshnet.CIDR, error) {
	var out meshnet.CIDR
	err := c.do(ctx, http.MethodPost, "/v1/admin/cidrs", req, &out)
	return out, err
}

func (c *APIClient) ListCIDRs(ctx context.Context) ([]meshnet.CIDR, error) {
	var out []meshnet.CIDR
	err := c.do(ctx, http.MethodGet, "/v1/admin/cidrs", nil, &out)
	return out, err
}

func (c *APIClient) RenameCIDR(ctx context.Context, id int64, name string) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/admin/cidrs/%d", id), map[string]string{"name": name}, nil)
}

func (c *APIClient) DeleteCIDR(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/admin/cidrs/%d", id), nil, nil)
}

func (c *APIClient) CreateAssociation(ctx context.Context, cidrID1, cidrID2 int64) (meshnet.Association, error) {
	var out meshnet.Association
	err := c.do(ctx, http.MethodPost, "/v1/admin/associations",
		map[string]int64{"cidr_id_1": cidrID1, "cidr_id_2": cidrID2}, &out)
	return out, err
}

func (c *APIClient) ListAssociations(ctx context.Context) ([]meshnet.Association, error) {
	var out []meshnet.Association
	err := c.do(ctx, http.MethodGet, "/v1/admin/associations", nil, &out)
	return out, err
}

func (c *APIClient) DeleteAssociation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/admin/associations/%d", id), nil, nil)
}
