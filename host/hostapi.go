package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/kbukum/nodegraph/capability"
	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/observability"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/resilience"
	"github.com/kbukum/nodegraph/version"
)

// hostAPI is the per-handle privileged surface. The declared capability set
// is the calling node's, and every request re-checks it: approvals are
// never cached across calls.
type hostAPI struct {
	host     *Host
	nodeID   string
	spec     *registry.ComponentSpec
	declared []string
	client   *http.Client
	limiter  *rate.Limiter
	log      *logger.Logger

	mu      sync.Mutex
	current *callLatch
}

func newHostAPI(h *Host, nodeID string, spec *registry.ComponentSpec) *hostAPI {
	declared := spec.Capabilities
	return &hostAPI{
		host:     h,
		nodeID:   nodeID,
		spec:     spec,
		declared: declared,
		client: &http.Client{
			Transport:     h.transport,
			CheckRedirect: h.validator.RedirectPolicy(declared, h.cfg.Redirects()),
		},
		limiter: rate.NewLimiter(rate.Limit(h.cfg.FetchRate), h.cfg.FetchBurst),
		log:     h.log.WithComponent("hostapi").WithFields(logger.NodeFields(nodeID, spec.ID)),
	}
}

// callLatch holds the first denial of one call.
type callLatch struct {
	mu     sync.Mutex
	denied *nerrors.ExecutionError
}

func (l *callLatch) record(err *nerrors.ExecutionError) {
	l.mu.Lock()
	if l.denied == nil {
		l.denied = err
	}
	l.mu.Unlock()
}

func (l *callLatch) take() *nerrors.ExecutionError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.denied
}

type latchKey struct{}

// begin opens a fresh latch for one call and returns a context carrying it.
// A component still running from an abandoned call holds the old context,
// so its denials never reach a later call.
func (a *hostAPI) begin(ctx context.Context) (context.Context, *callLatch) {
	l := &callLatch{}
	a.mu.Lock()
	a.current = l
	a.mu.Unlock()
	return context.WithValue(ctx, latchKey{}, l), l
}

// end returns the first denial recorded during the call. A denied privileged
// operation fails the whole call even if the component swallowed the error.
func (a *hostAPI) end(l *callLatch) *nerrors.ExecutionError {
	a.mu.Lock()
	if a.current == l {
		a.current = nil
	}
	a.mu.Unlock()
	return l.take()
}

// latchFor finds the call a request belongs to. Requests made without the
// call context fall back to the call in progress, if any.
func (a *hostAPI) latchFor(ctx context.Context) *callLatch {
	if l, ok := ctx.Value(latchKey{}).(*callLatch); ok {
		return l
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *hostAPI) deny(ctx context.Context, kind string, err *nerrors.ExecutionError) error {
	if l := a.latchFor(ctx); l != nil {
		l.record(err)
	}

	target, _ := err.Details["target"].(string)
	a.log.Warn("capability denied", logger.Fields(
		logger.FieldCategory, string(err.Category),
		logger.FieldTarget, target,
		"declared", a.declared,
	))
	a.host.metrics.RecordCapabilityDenied(ctx, a.spec.ID, kind)
	return err
}

// Fetch performs a GET request on behalf of the component. The target host
// and every redirect hop must be covered by a declared network capability.
func (a *hostAPI) Fetch(ctx context.Context, rawURL string) (*FetchResponse, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanHostFetch)
	defer span.End()
	span.SetAttributes(
		attribute.String(observability.AttrNodeID, a.nodeID),
		attribute.String(observability.AttrComponentID, a.spec.ID),
	)

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, nerrors.Failure(fmt.Sprintf("%q is not an absolute URL.", rawURL)).WithCause(err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, a.deny(ctx, capability.KindNetwork, nerrors.CapabilityDenied(capability.KindNetwork, rawURL).
			WithHint("Only http and https requests are permitted."))
	}
	if err := a.host.validator.Authorize(a.declared, capability.KindNetwork, u.Host); err != nil {
		execErr, _ := nerrors.As(err)
		return nil, a.deny(ctx, capability.KindNetwork, execErr)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, nerrors.Timeout("fetch").WithCause(err).
			WithHint("The component is fetching faster than host.fetch_rate allows.")
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = a.host.cfg.Retries() + 1
	cfg.RetryIf = func(err error) bool {
		if _, ok := nerrors.As(err); ok {
			return false
		}
		return resilience.DefaultRetryIf(err)
	}
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		a.log.Debug("fetch retry", logger.Fields("attempt", attempt, "backoff_ms", backoff.Milliseconds(), logger.FieldError, err.Error()))
	}

	resp, err := resilience.Retry(ctx, cfg, func() (*FetchResponse, error) {
		return a.do(ctx, u.String())
	})
	if err != nil {
		if execErr, ok := nerrors.As(err); ok {
			if execErr.Category == nerrors.CategoryCapabilityDenied {
				return nil, a.deny(ctx, capability.KindNetwork, execErr)
			}
			return nil, execErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nerrors.Timeout("fetch").WithCause(err)
		}
		return nil, nerrors.Failure(fmt.Sprintf("Request to %s failed.", u.Host)).WithCause(err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	return resp, nil
}

func (a *hostAPI) do(ctx context.Context, target string) (*FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nerrors.Failure("The request could not be built.").WithCause(err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := a.client.Do(req)
	if err != nil {
		// Redirect denials surface wrapped in *url.Error.
		if execErr, ok := nerrors.As(err); ok {
			return nil, execErr
		}
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	limit := a.host.cfg.FetchMaxBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if int64(len(body)) > limit {
		exhausted := nerrors.ResourceExhausted("fetch body", limit)
		exhausted.Retryable = false
		return nil, exhausted
	}
	return &FetchResponse{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Body:   body,
	}, nil
}

// Log forwards a component log line.
func (a *hostAPI) Log(_ context.Context, level, msg string) {
	switch strings.ToLower(level) {
	case "debug":
		a.log.Debug(msg)
	case "warn", "warning":
		a.log.Warn(msg)
	case "error":
		a.log.Error(msg)
	default:
		a.log.Info(msg)
	}
}
