package assets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// fetcher downloads remote images.
type fetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	maxSize int64
	logger  *zap.Logger
}

func newFetcher(cfg Config, logger *zap.Logger) *fetcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	if cfg.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = cfg.RetryWaitMax
	}
	retryClient.Logger = leveled{logger.Sugar()}

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "apphost-assets/1.0")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.FetchRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FetchRPS), max(1, int(cfg.FetchRPS)))
	}

	breaker := resilience.New("assets-remote", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 10 ||
				(c.Requests >= 20 && float64(c.TotalFailures)/float64(c.Requests) > 0.7)
		},
		// a missing or broken image says nothing about the host
		IsFailure: func(err error) bool {
			return err != nil && errs.KindOf(err) == errs.KindTransport
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &fetcher{
		client:  client,
		limiter: limiter,
		breaker: breaker,
		maxSize: cfg.MaxImageBytes,
		logger:  logger,
	}
}

func (f *fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.KindTransport, "assets.fetch", fmt.Errorf("rate limit: %w", err))
	}
	return resilience.Do(f.breaker, func() ([]byte, error) {
		resp, err := f.client.R().SetContext(ctx).Get(url)
		if err != nil {
			return nil, errs.Wrap(errs.KindTransport, "assets.fetch", err)
		}
		switch code := resp.StatusCode(); {
		case code == http.StatusNotFound || code == http.StatusGone:
			return nil, errs.New(errs.KindNotFound, "assets.fetch", "%s not found", url)
		case code >= 400:
			return nil, errs.New(errs.KindTransport, "assets.fetch", "%s: %s", url, resp.Status())
		}
		body := resp.Body()
		if int64(len(body)) > f.maxSize {
			return nil, errs.New(errs.KindResourceExhausted, "assets.fetch", "%s is larger than %d bytes", url, f.maxSize)
		}
		return body, nil
	})
}

// BreakerState exposes the remote breaker state for health reporting.
func (r *Resolver) BreakerState() resilience.State {
	return r.fetcher.breaker.State()
}

// leveled adapts zap to retryablehttp's LeveledLogger.
type leveled struct{ s *zap.SugaredLogger }

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveled{}
