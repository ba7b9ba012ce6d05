// Package modelcheck verifies that a model endpoint is reachable and serves
// the configured model before a run starts.
package modelcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/constants"
)

var (
	ErrUnreachable   = errors.New("model endpoint unreachable")
	ErrModelNotFound = errors.New("model not available at endpoint")
)

// Config tunes the HTTP client used for checks.
type Config struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryWaitMS int
}

// Status is the outcome of a check.
type Status struct {
	Endpoint  string   `json:"endpoint"`
	Model     string   `json:"model,omitempty"`
	Available []string `json:"available"`
	Found     bool     `json:"found"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Checker verifies that a model endpoint is reachable and serves a model.
type Checker struct {
	client *resty.Client
	l      *slog.Logger
}

// New returns a checker. A non-positive Timeout defaults to five seconds.
func New(cfg Config, l *slog.Logger) *Checker {
	if l == nil {
		l = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMS)*time.Millisecond).
		SetHeader("Accept", "application/json")

	return &Checker{client: client, l: l}
}

// Check lists the endpoint's models. With an empty model name only
// reachability is verified.
func (c *Checker) Check(ctx context.Context, mc flow.ModelConfig) (*Status, error) {
	endpoint := strings.TrimRight(mc.Endpoint, "/")
	if endpoint == "" {
		endpoint = constants.DefaultModelEndpoint
	}
	status := &Status{Endpoint: endpoint, Model: mc.Model}

	var tags tagsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&tags).
		Get(endpoint + "/api/tags")
	if err != nil {
		return status, fmt.Errorf("%w: %s: %v", ErrUnreachable, endpoint, err)
	}
	if resp.IsError() {
		return status, fmt.Errorf("%w: %s responded %s", ErrUnreachable, endpoint, resp.Status())
	}

	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		status.Available = append(status.Available, name)
		if mc.Model != "" && sameModel(name, mc.Model) {
			status.Found = true
		}
	}
	c.l.DebugContext(ctx, "Model endpoint listed models", "endpoint", endpoint, "count", len(status.Available))

	if mc.Model == "" {
		return status, nil
	}
	if !status.Found {
		return status, fmt.Errorf("%w: %q at %s", ErrModelNotFound, mc.Model, endpoint)
	}
	return status, nil
}

// sameModel treats an untagged name as the ":latest" tag.
func sameModel(listed, wanted string) bool {
	if listed == wanted {
		return true
	}
	return strings.TrimSuffix(listed, ":latest") == strings.TrimSuffix(wanted, ":latest")
}
