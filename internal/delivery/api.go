package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

const maxAPIResponseBytes = 16 << 10

// APIDefaults apply when a product's api settings omit a value.
type APIDefaults struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
}

func (d APIDefaults) withFallbacks() APIDefaults {
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 3
	}
	if d.Backoff <= 0 {
		d.Backoff = time.Second
	}
	if d.MaxBackoff <= 0 {
		d.MaxBackoff = 30 * time.Second
	}
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	return d
}

// StatusError is a non-2xx answer from a fulfilment endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fulfilment endpoint returned %d", e.StatusCode)
}

// APIStrategy calls the product's fulfilment endpoint. Timeouts, transport
// errors, 408, 429 and 5xx answers are retried with exponential backoff;
// other answers fail at once.
type APIStrategy struct {
	client   *http.Client
	defaults APIDefaults
}

func NewAPIStrategy(client *http.Client, defaults APIDefaults) *APIStrategy {
	if client == nil {
		client = &http.Client{}
	}
	return &APIStrategy{client: client, defaults: defaults.withFallbacks()}
}

func (s *APIStrategy) Type() enums.DeliveryType { return enums.DeliveryTypeAPI }

func (s *APIStrategy) Execute(ctx context.Context, job Job) (*Outcome, error) {
	if job.Product == nil {
		return nil, errors.New("product required for api delivery")
	}
	cfg := job.Product.DeliveryConfig.Data().API
	if cfg == nil || strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("api delivery endpoint not configured")
	}

	attempts := s.defaults.MaxAttempts
	if cfg.MaxAttempts > 0 {
		attempts = cfg.MaxAttempts
	}
	backoff := s.defaults.Backoff
	if cfg.BackoffMS > 0 {
		backoff = time.Duration(cfg.BackoffMS) * time.Millisecond
	}
	timeout := s.defaults.Timeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}

	body, err := renderBody(cfg.BodyTemplate, newTemplateData(job))
	if err != nil {
		return nil, err
	}

	b := retry.WithMaxRetries(uint64(attempts-1), retry.WithCappedDuration(s.defaults.MaxBackoff, retry.NewExponential(backoff)))

	var response []byte
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, method, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", job.Order.OrderID)
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
			if transientStatus(resp.StatusCode) {
				return retry.RetryableError(statusErr)
			}
			return statusErr
		}
		response = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("api delivery: %w", err)
	}

	content := strings.TrimSpace(string(response))
	if content == "" {
		content = "{}"
	}
	ref := "api:" + job.Order.OrderID
	return &Outcome{ContentRef: &content, PublicRef: &ref}, nil
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

type templateData struct {
	OrderID       string         `json:"order_id"`
	ProductSlug   string         `json:"product_slug"`
	PlanID        string         `json:"plan_id,omitempty"`
	Quantity      int            `json:"quantity"`
	Currency      enums.Currency `json:"currency"`
	Amount        int64          `json:"amount"`
	CustomerName  string         `json:"customer_name"`
	CustomerEmail string         `json:"customer_email"`
}

func newTemplateData(job Job) templateData {
	return templateData{
		OrderID:       job.Order.OrderID,
		ProductSlug:   job.Order.ProductSlug,
		PlanID:        job.Order.PlanID,
		Quantity:      job.Order.Quantity,
		Currency:      job.Order.Currency,
		Amount:        job.Order.ExpectedAmount(),
		CustomerName:  job.Order.CustomerName,
		CustomerEmail: job.Order.CustomerEmail,
	}
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		out, err := json.Marshal(v)
		return string(out), err
	},
}

// renderBody executes the product's body template, or encodes the order
// summary as JSON when no template is configured.
func renderBody(tmpl string, data templateData) ([]byte, error) {
	if strings.TrimSpace(tmpl) == "" {
		return json.Marshal(data)
	}
	t, err := template.New("body").Funcs(templateFuncs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render body template: %w", err)
	}
	return buf.Bytes(), nil
}
