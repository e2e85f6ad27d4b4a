// Package openai implements the language-model backends and speech
// capabilities on top of github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"errors"
	"net/http"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/resilience"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultAzureAPIVersion is the chat API version used for Azure deployments.
const DefaultAzureAPIVersion = "2023-12-01-preview"

// ClientConfig selects between the public OpenAI API and an Azure OpenAI resource.
type ClientConfig struct {
	APIKey string
	// BaseURL overrides the API root. For Azure it is the resource endpoint.
	BaseURL    string
	Azure      bool
	APIVersion string
	OrgID      string
	HTTPClient *http.Client
}

// NewClient builds a go-openai client. Azure deployments are addressed by
// passing the deployment name as the model.
func NewClient(cfg ClientConfig) *openai.Client {
	var c openai.ClientConfig
	if cfg.Azure {
		c = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		c.APIVersion = DefaultAzureAPIVersion
		if cfg.APIVersion != "" {
			c.APIVersion = cfg.APIVersion
		}
		c.AzureModelMapperFunc = func(model string) string { return model }
	} else {
		c = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		c.OrgID = cfg.OrgID
	}
	if cfg.HTTPClient != nil {
		c.HTTPClient = cfg.HTTPClient
	}
	return openai.NewClientWithConfig(c)
}

// classify maps a go-openai failure onto the backend error taxonomy. A 429
// is a transient rate limit and any other 4xx is fatal. 5xx, network and
// decode failures are transient. Context errors pass through.
func classify(err error, reason errorsx.ReasonCode) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status := statusCode(err); {
	case status == http.StatusTooManyRequests:
		return errorsx.NewTransient(errorsx.ReasonBackendRateLimit,
			resilience.RateLimitError{Provider: "openai", Message: err.Error()})
	case status >= 400 && status < 500:
		return errorsx.NewFatal(reason, err)
	}
	return errorsx.NewTransient(reason, err)
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
