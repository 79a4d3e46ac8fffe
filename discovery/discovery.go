package discovery

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/c360/cdpsession/errors"
	"github.com/c360/cdpsession/metric"
	"github.com/c360/cdpsession/pkg/retry"
)

// Target describes one debuggable target advertised by the browser's
// introspection endpoint.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	Description          string `json:"description,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl,omitempty"`
}

// Usable reports whether the target can carry a control channel.
func (t Target) Usable(targetType string) bool {
	return t.Type == targetType && t.WebSocketDebuggerURL != ""
}

// Discoverer polls a browser's HTTP introspection endpoint until a usable
// target is advertised.
type Discoverer struct {
	cfg     Config
	client  *http.Client
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Discoverer
type Option func(*Discoverer)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Discoverer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics wires discovery attempt counting into the core metrics
func WithMetrics(metrics *metric.Metrics) Option {
	return func(d *Discoverer) {
		d.metrics = metrics
	}
}

// WithHTTPClient overrides the HTTP client used for polling
func WithHTTPClient(client *http.Client) Option {
	return func(d *Discoverer) {
		if client != nil {
			d.client = client
		}
	}
}

// New creates a Discoverer for the configured endpoint
func New(cfg Config, opts ...Option) (*Discoverer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Discoverer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.AttemptTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Endpoint returns the base URL of the introspection endpoint.
// The connection manager reuses it for crash-detection liveness polling.
func (d *Discoverer) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", d.cfg.Host, d.cfg.Port)
}

// Discover polls the introspection endpoint with backoff until a target of
// the configured type advertising a channel address appears. Malformed or
// empty responses count as failed attempts and are retried; only exhausting
// the attempt budget is terminal.
func (d *Discoverer) Discover(ctx context.Context) (Target, error) {
	retryCfg := retry.Config{
		MaxAttempts:  d.cfg.MaxAttempts,
		InitialDelay: d.cfg.InitialDelay,
		MaxDelay:     d.cfg.MaxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	var (
		attempts int
		lastErr  error
	)

	target, err := retry.DoWithResult(ctx, retryCfg, "target-discovery", func() (Target, error) {
		attempts++
		if d.metrics != nil {
			d.metrics.DiscoveryAttempts.Inc()
		}

		t, err := d.poll(ctx)
		if err != nil {
			lastErr = err
			d.logger.Debug("discovery attempt failed",
				"attempt", attempts,
				"port", d.cfg.Port,
				"error", err)
			// Poll failures are always worth retrying within the budget
			return Target{}, errors.WrapTransient(err, "discovery", "Discover", "poll targets")
		}
		return t, nil
	})
	if err != nil {
		// A cancelled caller is not an exhausted budget; report what
		// actually stopped the search
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Target{}, errors.Wrap(ctxErr, "discovery", "Discover",
				fmt.Sprintf("cancelled after %d attempts", attempts))
		}
		return Target{}, errors.DiscoveryExhausted(d.cfg.Port, attempts, lastErr)
	}

	d.logger.Info("target discovered",
		"target_id", target.ID,
		"type", target.Type,
		"url", target.URL,
		"attempts", attempts)
	return target, nil
}

// Liveness checks whether the introspection endpoint is still reachable.
// Used by crash detection; any HTTP-level response means the browser
// process is alive.
func (d *Discoverer) Liveness(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint()+"/json", nil)
	if err != nil {
		return errors.Wrap(err, "discovery", "Liveness", "build request")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "discovery", "Liveness", "reach endpoint")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return nil
}

// poll performs a single discovery attempt. The version-suffixed /json/list
// path is tried when the bare /json path yields nothing usable; older
// browsers serve only one of the two.
func (d *Discoverer) poll(ctx context.Context) (Target, error) {
	var lastErr error
	for _, path := range []string{"/json", "/json/list"} {
		target, err := d.fetchTargets(ctx, path)
		if err == nil {
			return target, nil
		}
		// A well-formed list with no usable target is the most informative
		// failure; don't let a 404 on the fallback path mask it.
		if lastErr == nil || !stderrors.Is(lastErr, errors.ErrNoMatchingTarget) {
			lastErr = err
		}
	}
	return Target{}, lastErr
}

func (d *Discoverer) fetchTargets(ctx context.Context, path string) (Target, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, d.Endpoint()+path, nil)
	if err != nil {
		return Target{}, errors.Wrap(err, "discovery", "fetchTargets", "build request")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Target{}, errors.Wrap(err, "discovery", "fetchTargets", "reach endpoint")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Target{}, fmt.Errorf("discovery endpoint %s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Target{}, errors.Wrap(err, "discovery", "fetchTargets", "read response")
	}

	var targets []Target
	if err := json.Unmarshal(body, &targets); err != nil {
		return Target{}, errors.Wrap(err, "discovery", "fetchTargets", "decode target list")
	}

	for _, t := range targets {
		if t.Usable(d.cfg.TargetType) {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("%w: %d targets listed, none of type %q with a channel address",
		errors.ErrNoMatchingTarget, len(targets), d.cfg.TargetType)
}
