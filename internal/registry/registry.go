// Package registry implements the gateway's RegistryClient: the thin
// HTTP wrapper around the external service registry that backs
// registration, instance discovery, and health probing.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/fleetgate/api-gateway/internal/envelope"
)

// ErrMissingRegistrationKey is fatal: the caller cannot recover by
// retrying, since no credential can ever be obtained without the key.
var ErrMissingRegistrationKey = errors.New("MISSING_REGISTRATION_KEY")

// ErrUnauthorized is the distinguished signal for a revoked credential.
// Callers (LivenessController) are expected to drive re-registration,
// not retry the call in place.
var ErrUnauthorized = errors.New("registry credential rejected (401)")

const serviceTypeSelf = "api-gateway"

// Config configures a Client.
type Config struct {
	BaseURL         string
	RegistrationKey string
	RequestTimeout  time.Duration
	HealthPath      string // default "/health", see SPEC_FULL §11
}

// Client is the gateway's RegistryClient.
type Client struct {
	baseURL    string
	regKey     string
	healthPath string
	httpClient *http.Client
	log        *logrus.Entry

	mu         sync.RWMutex
	credential Credential
}

// New builds a Client from cfg.
func New(cfg Config, log *logrus.Logger) *Client {
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		regKey:     cfg.RegistrationKey,
		healthPath: healthPath,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log.WithField("component", "registry"),
	}
}

// Credential returns the currently held credential.
func (c *Client) Credential() Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credential
}

type registerRequestBody struct {
	Port        int    `json:"port"`
	ServiceType string `json:"serviceType"`
}

// Register obtains a fresh Credential from the registry for the given
// listen port. It is the only thing that mutates the held credential
// besides a 401 invalidating it.
func (c *Client) Register(ctx context.Context, port int) (Credential, error) {
	if c.regKey == "" {
		return Credential{}, ErrMissingRegistrationKey
	}

	body, err := json.Marshal(registerRequestBody{Port: port, ServiceType: serviceTypeSelf})
	if err != nil {
		return Credential{}, envelope.NewUnknown(fmt.Errorf("building register payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/service", bytes.NewReader(body))
	if err != nil {
		return Credential{}, envelope.NewNeverIssuedError(fmt.Errorf("building register request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.regKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("REGISTRY_UNREACHABLE: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, fmt.Errorf("REGISTRY_UNREACHABLE: reading register response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return Credential{}, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, fmt.Errorf("REGISTRY_UNREACHABLE: register returned status %d: %s", resp.StatusCode, string(payload))
	}

	var cred Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return Credential{}, fmt.Errorf("REGISTRY_UNREACHABLE: decoding register response: %w", err)
	}

	c.mu.Lock()
	c.credential = cred
	c.mu.Unlock()

	c.log.WithField("service_id", cred.ServiceID).Info("registered with service registry")
	logTokenExpiry(c.log, cred.Token)

	return cred, nil
}

func (c *Client) authHeaders(req *http.Request) {
	cred := c.Credential()
	req.Header.Set("x-service-id", cred.ServiceID)
	req.Header.Set("x-service-token", cred.Token)
}

// GetServices returns the live instance list for serviceType. An empty
// slice with a nil error is a legitimate result; callers treat that as
// a 502-class condition, not an error from this layer.
func (c *Client) GetServices(ctx context.Context, serviceType string) ([]Instance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/services/"+serviceType, nil)
	if err != nil {
		return nil, envelope.NewNeverIssuedError(fmt.Errorf("building services request: %w", err))
	}
	c.authHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, envelope.NewTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}

	var env envelope.Response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, envelope.NewTransportError(fmt.Errorf("decoding services response: %w", err))
	}
	if !env.Success {
		msg := "registry rejected services lookup"
		if env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return nil, envelope.NewTransportError(errors.New(msg))
	}

	raw, err := json.Marshal(env.Data)
	if err != nil {
		return nil, envelope.NewTransportError(err)
	}
	var instances []Instance
	if err := json.Unmarshal(raw, &instances); err != nil {
		return nil, envelope.NewTransportError(fmt.Errorf("decoding instance list: %w", err))
	}
	return instances, nil
}

// Health probes the registry's own health endpoint and reports its
// reported status ("UP" or "DOWN").
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return "", fmt.Errorf("building health request: %w", err)
	}
	c.authHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("registry health check returned status %d", resp.StatusCode)
	}

	var env envelope.Response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decoding health response: %w", err)
	}
	raw, err := json.Marshal(env.Data)
	if err != nil {
		return "", err
	}
	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return "", fmt.Errorf("decoding health status: %w", err)
	}
	return status.Status, nil
}

// logTokenExpiry decodes the registry token's claims without verifying
// its signature, purely to log when it will expire. This is never used
// to authenticate or authorize anything — the gateway trusts the
// registry's own HTTP-level 401 for that, per the no-end-user-auth
// scope of this service.
func logTokenExpiry(log *logrus.Entry, token string) {
	if token == "" {
		return
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		log.WithError(err).Debug("registry token is not a decodable JWT; skipping expiry log")
		return
	}
	if exp, ok := claims["exp"]; ok {
		log.WithField("token_exp", exp).Debug("registry credential expiry")
	}
}
