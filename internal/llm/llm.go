// Package llm talks to a single generative-model endpoint. It renders the
// prompt for a request, performs one call and classifies failures; retry and
// fallback policy live in the caller.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/joescharf/tfreview/internal/models"
)

// ErrorKind classifies a failed model call.
type ErrorKind string

const (
	Throttled   ErrorKind = "throttled"
	Unavailable ErrorKind = "unavailable"
	Timeout     ErrorKind = "timeout"
	Other       ErrorKind = "other"
)

// Retryable reports whether a call failing with k may be attempted again on
// the same model.
func (k ErrorKind) Retryable() bool {
	return k == Throttled || k == Unavailable || k == Timeout
}

// ErrEmptySnapshot is returned when a request carries no source text.
var ErrEmptySnapshot = errors.New("snapshot is empty")

// ModelError is the only error type returned by Client.Invoke.
type ModelError struct {
	Kind  ErrorKind
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %s: %v", e.Model, e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// KindOf returns the ModelError kind of err, or Other.
func KindOf(err error) ErrorKind {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Kind
	}
	return Other
}

// FailureInput carries the details of a failed Terraform run for a
// failure_analysis prompt.
type FailureInput struct {
	ErrorType    string               `json:"error_type"`
	ErrorMessage string               `json:"error_message"`
	ErrorCode    string               `json:"error_code,omitempty"`
	StackTrace   string               `json:"stack_trace,omitempty"`
	Previous     *models.ReviewRecord `json:"-"`
}

// FixInput carries the before/after state for a fix_effectiveness prompt.
// The request Snapshot is the original code.
type FixInput struct {
	FixedSnapshot    string           `json:"fixed_snapshot"`
	OriginalFindings []models.Finding `json:"original_findings,omitempty"`
	FixedFindings    []models.Finding `json:"fixed_findings,omitempty"`
}

// Request is one model invocation.
type Request struct {
	Kind     models.PromptKind
	Snapshot string
	Context  *models.ReviewContext
	Failure  *FailureInput
	Fix      *FixInput
}

// Client invokes one configured model.
type Client interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Provider names a backend API family.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// DefaultBaseConfidence applies to models configured without one.
const DefaultBaseConfidence = 0.80

// DefaultTemperature applies when temperature is not configured. An
// explicit 0 is kept.
const DefaultTemperature = 0.1

// ModelSpec is the static configuration of one model in the fallback chain.
type ModelSpec struct {
	Name            string        `mapstructure:"name" json:"name" yaml:"name"`
	Provider        Provider      `mapstructure:"provider" json:"provider" yaml:"provider"`
	Model           string        `mapstructure:"model" json:"model" yaml:"model"`
	BaseConfidence  float64       `mapstructure:"base_confidence" json:"base_confidence" yaml:"base_confidence"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens" json:"max_output_tokens" yaml:"max_output_tokens"`
	Temperature     *float64      `mapstructure:"temperature" json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	BaseURL         string        `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv       string        `mapstructure:"api_key_env" json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
}

// Temp returns the sampling temperature, or DefaultTemperature when unset.
func (s ModelSpec) Temp() float64 {
	if s.Temperature == nil {
		return DefaultTemperature
	}
	return *s.Temperature
}

// WithDefaults fills unset fields.
func (s ModelSpec) WithDefaults() ModelSpec {
	if s.Name == "" {
		s.Name = s.Model
	}
	if s.BaseConfidence <= 0 {
		s.BaseConfidence = DefaultBaseConfidence
	}
	if s.MaxOutputTokens <= 0 {
		s.MaxOutputTokens = 4096
	}
	if s.Temperature == nil {
		t := DefaultTemperature
		s.Temperature = &t
	}
	if s.Timeout <= 0 {
		s.Timeout = 120 * time.Second
	}
	return s
}

// classifyStatus maps an HTTP status code to an error kind.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return Throttled
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return Timeout
	case code >= 500:
		// Includes Anthropic's 529 overloaded.
		return Unavailable
	default:
		return Other
	}
}

// classifyTransport maps errors that carry no HTTP status.
func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Other
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return Unavailable
	}
	return Other
}
