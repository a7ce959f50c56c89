package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRegistryTTL bounds how long a fetched registry is reused.
const DefaultRegistryTTL = 5 * time.Minute

// Config holds the connection settings for a Home Assistant instance.
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	RegistryTTL time.Duration
}

// Client talks to the Home Assistant REST API. Only the registry is cached
// across calls.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	registryTTL time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	registry  map[string]RegistryEntry
	fetchedAt time.Time
	group     singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.HTTPClient = h }
}

// WithClock sets the clock used for registry expiry. Readings should carry
// a monotonic component, as time.Now does.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client from explicit config. It returns
// ErrNotConfigured when no base URL is set.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("home assistant url: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RegistryTTL == 0 {
		cfg.RegistryTTL = DefaultRegistryTTL
	}
	c := &Client{
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		Token:       cfg.Token,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		registryTTL: cfg.RegistryTTL,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// States
// ---------------------------------------------------------------------------

// GetStates returns every entity state.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, &states); err != nil {
		return nil, fmt.Errorf("get states: %w", err)
	}
	return states, nil
}

// ValidateEntities reports, for each id, whether Home Assistant knows it and
// which same-domain entities could have been meant.
func (c *Client) ValidateEntities(ctx context.Context, ids []string) (map[string]EntityStatus, error) {
	states, err := c.GetStates(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(states))
	all := make([]string, 0, len(states))
	for _, s := range states {
		known[s.EntityID] = true
		all = append(all, s.EntityID)
	}

	out := make(map[string]EntityStatus, len(ids))
	for _, id := range ids {
		if known[id] {
			out[id] = EntityStatus{Exists: true}
			continue
		}
		out[id] = EntityStatus{Alternatives: SuggestAlternatives(id, all, 3)}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// registryTemplate asks Home Assistant to render area, device and label
// assignments for every entity as JSON.
const registryTemplate = `{% set ns = namespace(out=[]) %}` +
	`{% for s in states %}{% set ns.out = ns.out + [{` +
	`"entity_id": s.entity_id, "area_id": area_id(s.entity_id), ` +
	`"device_id": device_id(s.entity_id), "labels": labels(s.entity_id)}] %}` +
	`{% endfor %}{{ ns.out | tojson }}`

// EntityRegistry returns the area/device/label registry keyed by entity id.
// Results are reused for the registry TTL and concurrent misses share one
// request.
func (c *Client) EntityRegistry(ctx context.Context) (map[string]RegistryEntry, error) {
	c.mu.Lock()
	if c.registry != nil && c.now().Sub(c.fetchedAt) < c.registryTTL {
		reg := c.registry
		c.mu.Unlock()
		return reg, nil
	}
	c.mu.Unlock()

	v, err, shared := c.group.Do("registry", func() (any, error) {
		var entries []RegistryEntry
		body := map[string]string{"template": registryTemplate}
		if err := c.do(ctx, http.MethodPost, "/api/template", body, &entries); err != nil {
			return nil, fmt.Errorf("fetch registry: %w", err)
		}
		reg := make(map[string]RegistryEntry, len(entries))
		for _, e := range entries {
			reg[e.EntityID] = e
		}
		c.mu.Lock()
		c.registry = reg
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("entity registry loaded", slog.Bool("shared", shared))
	return v.(map[string]RegistryEntry), nil
}

// InvalidateRegistry forces the next EntityRegistry call to refetch.
func (c *Client) InvalidateRegistry() {
	c.mu.Lock()
	c.registry = nil
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Deploy
// ---------------------------------------------------------------------------

// Deploy stores an automation config under id and reloads automations.
// config is the automation in its wire shape.
func (c *Client) Deploy(ctx context.Context, id string, config any) error {
	if id == "" {
		return fmt.Errorf("deploy: automation id is required")
	}
	path := "/api/config/automation/config/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPost, path, config, nil); err != nil {
		return fmt.Errorf("deploy %s: %w", id, err)
	}
	if err := c.do(ctx, http.MethodPost, "/api/services/automation/reload", map[string]any{}, nil); err != nil {
		return fmt.Errorf("reload automations: %w", err)
	}
	c.logger.Info("automation deployed", slog.String("id", id))
	return nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("home assistant returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Alternatives
// ---------------------------------------------------------------------------

// SuggestAlternatives returns up to n entities from known sharing the
// domain of id, ranked by object-id token overlap and then alphabetically.
func SuggestAlternatives(id string, known []string, n int) []string {
	domain := Domain(id)
	want := objectTokens(id)

	type candidate struct {
		id    string
		score int
	}
	var cands []candidate
	for _, k := range known {
		if k == id || Domain(k) != domain {
			continue
		}
		score := 0
		for tok := range objectTokens(k) {
			if want[tok] {
				score++
			}
		}
		if score > 0 {
			cands = append(cands, candidate{k, score})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})

	out := make([]string, 0, n)
	for i := 0; i < len(cands) && i < n; i++ {
		out = append(out, cands[i].id)
	}
	return out
}

func objectTokens(id string) map[string]bool {
	_, object, _ := strings.Cut(id, ".")
	toks := map[string]bool{}
	for _, t := range strings.Split(object, "_") {
		if t != "" {
			toks[t] = true
		}
	}
	return toks
}
