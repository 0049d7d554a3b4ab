package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
	"github.com/Iacob98/cometa-warehouse/internal/store"
)

// unit is one attempt of an operation. Effects registered with afterCommit
// run only once the attempt's transaction has committed.
type unit struct {
	tx    store.Tx
	now   time.Time
	after []func(context.Context)
}

func (u *unit) afterCommit(fn func(context.Context)) {
	u.after = append(u.after, fn)
}

func (s *Service) backoff() retry.Backoff {
	b := retry.NewExponential(s.retry.BaseDelay)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(uint64(s.retry.Attempts-1), b)
}

// run executes fn in a transaction, retrying transient store failures with
// exponential backoff. Business errors return on the first attempt.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, u *unit) error) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+op)
	defer span.End()
	started := time.Now()

	var (
		done    *unit
		attempt int
	)
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.hooks.IncRetry(op)
		}
		u := &unit{now: s.now()}
		err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			u.tx = tx
			return fn(ctx, u)
		})
		if err == nil {
			done = u
			return nil
		}
		if errors.Is(err, store.ErrTransient) && errs.CodeOf(err) == "" {
			s.log.Warn("transient store failure", "op", op, "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
	err = s.classify(op, err)

	span.SetAttributes(attribute.Int("ledger.attempts", attempt))
	s.hooks.ObserveOperation(op, outcome(err), time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errs.CodeOf(err)))
		return err
	}
	for _, fn := range done.after {
		fn(ctx)
	}
	return nil
}

// classify turns whatever reached the service boundary into an *errs.Error,
// except for the caller's own cancellation.
func (s *Service) classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errs.CodeOf(err) != "":
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrTransient):
		s.log.Error("store unavailable", "op", op, "err", err)
		e := errs.New(errs.CodeStorageUnavailable, op, "storage unavailable, retry later")
		e.Cause = err
		return e
	default:
		s.log.Error("ledger operation failed", "op", op, "err", err)
		return errs.Wrap(errs.CodeInternal, op, err)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errs.CodeOf(err); code != "" {
		return string(code)
	}
	return "canceled"
}
