// Package retry implements the shared retry/backoff discipline every
// outbound LLM and storage call obeys (§4.6, §7): up to 3 attempts, initial
// delay 1s doubling per attempt, rate-limited responses retried without
// counting as terminal, and every attempt logged with its target tag.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cobolgraph/extractor/pkg/pipelineerr"
)

// Policy configures the backoff discipline. The zero value is not usable;
// use DefaultPolicy.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
}

// DefaultPolicy matches §4.6 exactly: 3 attempts, 1s initial delay, doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Multiplier:     2.0,
	}
}

// Do runs fn under the policy's retry discipline. fn should return an error
// wrapping a *pipelineerr.Error when it wants kind-aware retry behavior;
// any other error is treated as retryable until attempts are exhausted, per
// §7 ("other non-2xx responses or exceptions retry until attempts exhausted").
// A KindUpstreamRateLimited failure retries without consuming the attempt
// budget, as required by §4.6.
func Do(ctx context.Context, target string, policy Policy, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	b.Multiplier = policy.Multiplier
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempt := 0
	var lastErr error

	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("retry succeeded", "target", target, "attempt", attempt)
			}
			return nil
		}

		kind := pipelineerr.KindOf(err)
		lastErr = err

		if kind == pipelineerr.KindUpstreamRateLimited {
			slog.Warn("rate limited, retrying without consuming attempt budget",
				"target", target, "attempt", attempt)
			attempt--
			if waitErr := sleep(ctx, b.NextBackOff()); waitErr != nil {
				return waitErr
			}
			continue
		}

		if kind != "" && !pipelineerr.IsRetryable(kind) {
			slog.Warn("terminal per-call failure, not retrying", "target", target, "kind", kind, "error", err)
			return err
		}

		if attempt >= policy.MaxAttempts {
			slog.Error("exhausted retry attempts", "target", target, "attempts", attempt, "error", err)
			return lastErr
		}

		delay := b.NextBackOff()
		slog.Warn("call failed, retrying", "target", target, "attempt", attempt, "delay", delay, "error", err)
		if waitErr := sleep(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d == backoff.Stop {
		return errors.New("retry: backoff exhausted")
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
