package gateway

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/mbecker/ankigen/internal/llm"
	"github.com/mbecker/ankigen/internal/observability"
	"github.com/mbecker/ankigen/internal/schemas"
)

// CallContext carries identifying metadata for logging and attribution
// only; it never influences the payload.
type CallContext struct {
	Job     string
	Stage   string
	Unit    int
	UnitEnd int
}

// Request is one submission to the provider: a prompt, optional slide
// images, and the schema the structured response must satisfy.
type Request struct {
	Prompt string
	// StrictAddendum is appended to the prompt when a malformed response
	// forces a re-ask.
	StrictAddendum string
	Images         [][]byte
	Schema         string // schemas package name; empty skips validation
	Tier           llm.ModelTier
	Call           CallContext
}

// ConfirmFunc pauses synchronously before a dispatch. Used for the
// manual-confirmation mode; returning an error cancels the call.
type ConfirmFunc func(ctx context.Context, call CallContext) error

// Options configures the optional gateway behaviors.
type Options struct {
	// RequestsPerMinute throttles outgoing calls; zero disables throttling.
	RequestsPerMinute int
	// Burst is the throttle's burst capacity (defaults to 1).
	Burst int
	// Confirm, when set, runs before every dispatch.
	Confirm ConfirmFunc
	Logger  *observability.Logger
}

// Gateway is the process-wide boundary to the generative provider.
type Gateway struct {
	client  llm.Client
	policy  Policy
	bucket  *throttle
	confirm ConfirmFunc
	log     *observability.Logger
}

// New builds a gateway around the provider client.
func New(client llm.Client, policy Policy, opts Options) *Gateway {
	log := opts.Logger
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &Gateway{
		client:  client,
		policy:  policy,
		bucket:  newThrottle(opts.RequestsPerMinute, opts.Burst),
		confirm: opts.Confirm,
		log:     log,
	}
}

// Submit sends the request, retrying transient failures with exponential
// backoff and malformed responses with a stricter instruction. Each retry
// re-submits the identical payload. On exhaustion it returns
// *ProviderUnavailableError (transport) or *SchemaError (malformed); both
// are terminal for the unit in this run, never for the job.
func (g *Gateway) Submit(ctx context.Context, req Request) (string, error) {
	if g.confirm != nil {
		if err := g.confirm(ctx, req.Call); err != nil {
			return "", err
		}
	}

	prompt := req.Prompt
	transportFailures := 0
	schemaFailures := 0

	for {
		if err := g.bucket.wait(ctx); err != nil {
			return "", err
		}

		raw, err := g.client.GenerateJSON(ctx, prompt, req.Images, req.Tier)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			code, transient := classify(err)
			transportFailures++
			if !transient {
				g.log.Error("provider rejected request",
					"job", req.Call.Job, "stage", req.Call.Stage, "unit", req.Call.Unit,
					"status", code, "error", err)
				return "", &ProviderUnavailableError{Attempts: transportFailures, Cause: err}
			}
			if transportFailures >= g.policy.MaxAttempts {
				return "", &ProviderUnavailableError{
					Attempts: transportFailures,
					Cause:    &TransportError{Code: code, Cause: err},
				}
			}

			delay := g.policy.Backoff(transportFailures)
			g.log.Warn("transient provider failure, backing off",
				"job", req.Call.Job, "stage", req.Call.Stage, "unit", req.Call.Unit,
				"attempt", transportFailures, "status", code, "delay", delay, "error", err)
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
			continue
		}

		if req.Schema != "" {
			if verr := schemas.Validate(req.Schema, raw); verr != nil {
				schemaFailures++
				if schemaFailures > g.policy.SchemaRetries {
					return "", &SchemaError{Attempts: schemaFailures, Cause: verr}
				}
				g.log.Warn("malformed provider response, re-asking strictly",
					"job", req.Call.Job, "stage", req.Call.Stage, "unit", req.Call.Unit,
					"attempt", schemaFailures, "error", verr)
				if req.StrictAddendum != "" {
					prompt = req.Prompt + "\n\n" + req.StrictAddendum
				}
				continue
			}
		}

		return raw, nil
	}
}

// classify sorts provider errors into transient (retryable) and permanent.
// Rate limits, 5xx responses, timeouts, and connectivity problems are
// transient; any other HTTP status is permanent. Errors of unknown shape
// are treated as transient, matching the provider's observed flakiness.
func classify(err error) (code int, transient bool) {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 429 || gerr.Code >= 500 {
			return gerr.Code, true
		}
		return gerr.Code, false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return 0, true
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return 0, true
	}

	return 0, true
}

// sleep waits for d or until the context is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
