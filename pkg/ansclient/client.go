// Package ansclient is the Go client for an Agent Name Service registry.
//
// A typical flow generates a key pair, registers a signed AgentRecord and
// looks agents up by ID or capability:
//
//	kp, err := ansclient.GenerateKeyPair()
//	c, err := ansclient.New("http://localhost:8080")
//	receipt, err := c.Register(ctx, record, kp.PrivateKey)
//	agents, err := c.Lookup(ctx, protocol.LookupQuery{Capabilities: []string{"python"}})
//
// Every failure is one of KeyGenerationError, QueryError, RegistrationError,
// LookupError or TimeoutError. The client keeps no state between calls and
// does not retry.
package ansclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ans-project/ans/pkg/protocol"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "ansclient/1"
	maxErrorBody     = 64 << 10
)

// Client talks to a registry over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	apiKey    string
	userAgent string
	timeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each call. Zero disables the per-call timeout and leaves
// only the caller's context deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for the registry at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("registry url %q must be an absolute http(s) URL", baseURL)
	}
	c := &Client{
		baseURL:   u,
		http:      &http.Client{},
		userAgent: defaultUserAgent,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateKeyPair returns a fresh P-256 key pair as PEM.
func GenerateKeyPair() (protocol.KeyPair, error) {
	return generateKeyPair(rand.Reader)
}

func generateKeyPair(r io.Reader) (protocol.KeyPair, error) {
	kp, err := protocol.GenerateKeyPairFrom(r)
	if err != nil {
		return protocol.KeyPair{}, &KeyGenerationError{Err: err}
	}
	return kp, nil
}

// Register normalizes and validates rec, signs it with privateKeyPEM and
// submits it. rec.PublicKey must match the private key.
func (c *Client) Register(ctx context.Context, rec protocol.AgentRecord, privateKeyPEM string) (*protocol.RegistrationReceipt, error) {
	const op = "register"
	priv, err := protocol.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, &RegistrationError{Op: op, Message: "invalid private key", Err: err}
	}
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, &RegistrationError{Op: op, Message: "invalid record", Details: strings.Split(err.Error(), "\n"), Err: err}
	}
	if !protocol.MatchesPublicKey(priv, rec.PublicKey) {
		return nil, &RegistrationError{Op: op, Message: "public_key does not match the signing key"}
	}
	reg, err := protocol.SignRecord(rec, priv)
	if err != nil {
		return nil, &RegistrationError{Op: op, Message: "sign record", Err: err}
	}
	return c.Submit(ctx, reg)
}

// Submit posts an already signed registration, such as one carrying a
// rotation signature.
func (c *Client) Submit(ctx context.Context, reg *protocol.SignedRegistration) (*protocol.RegistrationReceipt, error) {
	const op = "register"
	var resp protocol.RegistrationResponse
	if err := c.do(ctx, http.MethodPost, "/register", nil, reg, &resp); err != nil {
		return nil, asRegistrationError(op, err)
	}
	return &resp.Registration, nil
}

// Lookup returns every public record matching q, which must set exactly one
// of AgentID or Capabilities. It follows next_page_token until the registry
// has no more pages; q.Limit only sets the page size. No match yields an
// empty slice.
func (c *Client) Lookup(ctx context.Context, q protocol.LookupQuery) ([]protocol.AgentRecord, error) {
	hasID := strings.TrimSpace(q.AgentID) != ""
	hasCaps := len(protocol.SplitList(q.Capabilities...)) > 0
	switch {
	case hasID && hasCaps:
		return nil, &QueryError{Reason: "set either agent_id or capabilities, not both"}
	case !hasID && !hasCaps:
		return nil, &QueryError{Reason: "agent_id or capabilities is required"}
	}

	out := []protocol.AgentRecord{}
	seen := map[string]bool{}
	for {
		resp, err := c.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			out = append(out, r.AgentRecord)
		}
		next := resp.NextPageToken
		if next == "" {
			return out, nil
		}
		if seen[next] || next == q.PageToken {
			return nil, &LookupError{Op: "lookup", Message: "registry returned a repeated page token " + next}
		}
		seen[next] = true
		q.PageToken = next
	}
}

// Search runs an unrestricted lookup and returns the full response,
// including registry metadata and the next page token.
func (c *Client) Search(ctx context.Context, q protocol.LookupQuery) (*protocol.LookupResponse, error) {
	if q.Limit < 0 {
		return nil, &QueryError{Reason: "limit must not be negative"}
	}
	var resp protocol.LookupResponse
	if err := c.do(ctx, http.MethodGet, "/lookup", q.Values(), nil, &resp); err != nil {
		return nil, asLookupError("lookup", err)
	}
	if resp.Results == nil {
		resp.Results = []protocol.AgentResult{}
	}
	return &resp, nil
}

// Get returns the stored entry for agentID, including registry metadata.
func (c *Client) Get(ctx context.Context, agentID string) (*protocol.AgentEntry, error) {
	var entry protocol.AgentEntry
	if err := c.do(ctx, http.MethodGet, "/agents/"+agentID, nil, nil, &entry); err != nil {
		return nil, asLookupError("get agent", err)
	}
	return &entry, nil
}

// ResolveDID fetches the DID document for a did:ans identifier or agent ID.
func (c *Client) ResolveDID(ctx context.Context, ref string) (*protocol.DIDDocument, error) {
	var doc protocol.DIDDocument
	if err := c.do(ctx, http.MethodGet, "/did/"+ref, nil, nil, &doc); err != nil {
		return nil, asLookupError("resolve did", err)
	}
	return &doc, nil
}

// Deregister removes agentID from the registry. The request is signed with
// privateKeyPEM, which must be the key on record.
func (c *Client) Deregister(ctx context.Context, agentID, reason, privateKeyPEM string) error {
	const op = "deregister"
	priv, err := protocol.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return &RegistrationError{Op: op, Message: "invalid private key", Err: err}
	}
	req := &protocol.DeregisterRequest{AgentID: agentID, Reason: reason}
	if err := protocol.SignDeregistration(req, priv); err != nil {
		return &RegistrationError{Op: op, Message: "sign request", Err: err}
	}
	if err := c.do(ctx, http.MethodPost, "/deregister", nil, req, nil); err != nil {
		return asRegistrationError(op, err)
	}
	return nil
}

// Status returns the registry's status summary.
func (c *Client) Status(ctx context.Context) (*protocol.StatusResponse, error) {
	var st protocol.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, nil, &st); err != nil {
		return nil, asLookupError("status", err)
	}
	return &st, nil
}

// statusError is a non-2xx response before it is typed by the caller.
type statusError struct {
	code    int
	body    []byte
	message string
	details []string
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.code, e.message) }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	// ownDeadline is false when the caller's deadline is earlier than ours.
	ownDeadline := false
	if c.timeout > 0 {
		parent, hasParent := ctx.Deadline()
		ownDeadline = !hasParent || time.Until(parent) > c.timeout
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := *c.baseURL
	u.Path += path
	u.RawPath = ""
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(err, ownDeadline)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &statusError{code: resp.StatusCode, body: raw, message: http.StatusText(resp.StatusCode)}
		var er protocol.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Message != "" {
			se.message, se.details = er.Message, er.Details
		}
		return se
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return c.transportError(err, ownDeadline)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) transportError(err error, ownDeadline bool) error {
	if isTimeout(err) {
		te := &TimeoutError{Err: err}
		if ownDeadline {
			te.Timeout = c.timeout
		}
		return te
	}
	return err
}

func asRegistrationError(op string, err error) error {
	var te *TimeoutError
	if errors.As(err, &te) {
		te.Op = op
		return te
	}
	var se *statusError
	if errors.As(err, &se) {
		return &RegistrationError{Op: op, StatusCode: se.code, Body: se.body, Message: se.message, Details: se.details}
	}
	return &RegistrationError{Op: op, Err: err}
}

func asLookupError(op string, err error) error {
	var te *TimeoutError
	if errors.As(err, &te) {
		te.Op = op
		return te
	}
	var se *statusError
	if errors.As(err, &se) {
		return &LookupError{Op: op, StatusCode: se.code, Body: se.body, Message: se.message}
	}
	return &LookupError{Op: op, Err: err}
}
