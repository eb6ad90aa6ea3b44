package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// defaultRequestTimeout bounds a single policy API round trip.
const defaultRequestTimeout = 20 * time.Second

// CredentialSource supplies the bearer credential and profile identifier for
// each request, so settings updates take effect without rebuilding clients.
type CredentialSource interface {
	Credential() string
	ProfileID() string
}

// Client is the thin protocol adapter for the remote policy API. It owns no
// state beyond the connection; every read goes to the remote store.
type Client struct {
	baseURL string
	http    *http.Client
	source  CredentialSource
}

// NewClient constructs a policy API client.
func NewClient(baseURL string, httpClient *http.Client, source CredentialSource) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
		source:  source,
	}
}

// ruleBody is the request body shape shared by rule mutations.
type ruleBody struct {
	Hostnames []string `json:"hostnames"`
	Do        *int     `json:"do,omitempty"`
	Via       string   `json:"via,omitempty"`
}

// CreateOrUpdateRule creates a rule for the domain, retrying once as an
// update when the remote store reports the rule already exists.
func (c *Client) CreateOrUpdateRule(ctx context.Context, domain string, action int, proxyID string) error {
	if c == nil {
		return errors.New("gateway: client not initialized")
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return errors.New("gateway: domain is required")
	}

	body := ruleBody{Hostnames: []string{domain}, Do: &action}
	if action == ActionRedirect {
		body.Via = proxyID
	}

	status, payload, errReq := c.do(ctx, http.MethodPost, c.rulesPath(), nil, body)
	if errReq != nil {
		return errReq
	}
	if responseOK(status, payload) {
		return nil
	}
	if !isAlreadyExists(status, payload) {
		return &GatewayError{Message: errorMessageFromBody(payload, status), Status: status}
	}

	log.Debugf("gateway: rule for %s exists, retrying as update", domain)
	status, payload, errReq = c.do(ctx, http.MethodPut, c.rulesPath(), nil, body)
	if errReq != nil {
		return errReq
	}
	if responseOK(status, payload) {
		return nil
	}
	return &GatewayError{Message: errorMessageFromBody(payload, status), Status: status}
}

// DeleteRule tries each candidate domain in order, stopping at the first
// successful deletion. When every candidate fails it falls back to a soft
// delete: an update setting Bypass across all candidates at once, because
// the remote API does not reliably delete by hostname when the rule's store
// key differs from the hostname.
func (c *Client) DeleteRule(ctx context.Context, candidates []string) error {
	if c == nil {
		return errors.New("gateway: client not initialized")
	}
	candidates = trimCandidates(candidates)
	if len(candidates) == 0 {
		return errors.New("gateway: no deletion candidates")
	}

	for _, candidate := range candidates {
		status, payload, errReq := c.do(ctx, http.MethodDelete, c.rulesPath(), nil, ruleBody{Hostnames: []string{candidate}})
		if errReq != nil {
			log.WithError(errReq).Debugf("gateway: delete %s failed", candidate)
			continue
		}
		if responseOK(status, payload) {
			return nil
		}
		log.Debugf("gateway: delete %s status=%d", candidate, status)
	}

	bypass := ActionBypass
	status, payload, errReq := c.do(ctx, http.MethodPut, c.rulesPath(), nil, ruleBody{Hostnames: candidates, Do: &bypass})
	if errReq != nil {
		return errReq
	}
	if responseOK(status, payload) {
		return nil
	}
	return &GatewayError{Message: errorMessageFromBody(payload, status), Status: status}
}

// QueryRule queries one candidate at a time, stopping at the first that
// returns a rule matching any candidate. NotFound is (nil, "", nil); an
// error is returned only when every candidate request failed.
func (c *Client) QueryRule(ctx context.Context, candidates []string) (*Rule, string, error) {
	if c == nil {
		return nil, "", errors.New("gateway: client not initialized")
	}
	candidates = trimCandidates(candidates)
	if len(candidates) == 0 {
		return nil, "", errors.New("gateway: no query candidates")
	}

	var lastErr error
	anyOK := false
	for _, candidate := range candidates {
		query := url.Values{}
		query.Set("hostname", candidate)
		status, payload, errReq := c.do(ctx, http.MethodGet, c.rulesPath(), query, nil)
		if errReq != nil {
			lastErr = errReq
			continue
		}
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			lastErr = &GatewayError{Message: errorMessageFromBody(payload, status), Status: status}
			continue
		}

		var decoded any
		if errUnmarshal := json.Unmarshal(payload, &decoded); errUnmarshal != nil {
			lastErr = &GatewayError{Message: "undecodable query response", Status: status}
			continue
		}
		anyOK = true

		for _, raw := range RulesFromPayload(decoded) {
			rule := RuleFromMap(raw)
			for _, match := range candidates {
				if rule.Matches(match) {
					return rule, match, nil
				}
			}
		}
	}

	if !anyOK && lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", nil
}

// ListProxies fetches the available redirect targets, normalized into a flat
// list via the defensive shape ladder.
func (c *Client) ListProxies(ctx context.Context) ([]any, error) {
	if c == nil {
		return nil, errors.New("gateway: client not initialized")
	}
	status, payload, errReq := c.do(ctx, http.MethodGet, "/proxies", nil, nil)
	if errReq != nil {
		return nil, errReq
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &GatewayError{Message: errorMessageFromBody(payload, status), Status: status}
	}

	var decoded any
	if errUnmarshal := json.Unmarshal(payload, &decoded); errUnmarshal != nil {
		return nil, &GatewayError{Message: "undecodable proxies response", Status: status}
	}
	return ProxiesFromPayload(decoded), nil
}

// rulesPath builds the rules endpoint for the configured profile.
func (c *Client) rulesPath() string {
	profile := ""
	if c.source != nil {
		profile = strings.TrimSpace(c.source.ProfileID())
	}
	return "/profiles/" + url.PathEscape(profile) + "/rules"
}

// do issues one request and returns the status and raw body. Network-level
// failures come back as *TransportError; they never propagate raw.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var reader io.Reader
	if body != nil {
		encoded, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			return 0, nil, fmt.Errorf("gateway: encode request: %w", errMarshal)
		}
		reader = bytes.NewReader(encoded)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, errReq := http.NewRequestWithContext(ctx, method, target, reader)
	if errReq != nil {
		return 0, nil, fmt.Errorf("gateway: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.source != nil {
		if credential := strings.TrimSpace(c.source.Credential()); credential != "" {
			req.Header.Set("Authorization", "Bearer "+credential)
		}
	}

	resp, errResp := c.http.Do(req)
	if errResp != nil {
		return 0, nil, &TransportError{err: errResp}
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("gateway: close response body error: %v", errClose)
		}
	}()

	payload, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return resp.StatusCode, nil, &TransportError{err: errRead}
	}
	return resp.StatusCode, payload, nil
}

// responseOK reports success: HTTP 2xx and an application-level success flag
// that is not explicitly false. An empty 2xx body counts as success; a
// non-empty body that fails to decode does not.
func responseOK(status int, payload []byte) bool {
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return false
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return true
	}
	var decoded any
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &decoded); errUnmarshal != nil {
		return false
	}
	return !successFlagFalse(decoded)
}

// isAlreadyExists reports whether a create response means the rule already
// exists: an HTTP conflict, an explicit error code, or a message substring.
func isAlreadyExists(status int, payload []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	var decoded any
	if errUnmarshal := json.Unmarshal(payload, &decoded); errUnmarshal != nil {
		return false
	}
	shape := mapFromAny(decoded)
	if shape == nil {
		return false
	}
	code := strings.ToLower(normalizeString(shape["code"]))
	if code == "exists" || code == "already_exists" || code == "409" {
		return true
	}
	message := strings.ToLower(errorMessageFromBody(payload, status))
	return strings.Contains(message, "exist")
}

func trimCandidates(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
