package transcribe

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"transcriptor-pro/internal/keypool"
	"transcriptor-pro/internal/types"
)

var (
	// ErrNoKeysAvailable means rotation found no unlocked credential.
	ErrNoKeysAvailable = errors.New("Sin llaves disponibles")
	// ErrRateLimitExhausted means the attempt cap was spent on transient
	// failures.
	ErrRateLimitExhausted = errors.New("Rate Limit Exhausted")
)

// retrier is the transcription-call retry policy: transient failures rotate
// to a fresh key and retry the same chunk after a fixed backoff, bounded by
// factor × the scope's full key-list size. The cap is a heuristic carried
// from production tuning, not derived from any quota model.
type retrier struct {
	client     Client
	pool       *keypool.Pool
	scope      keypool.Scope
	factor     int
	wait       backoff.BackOff
	onReassign func(*types.KeyAssignment)
	log        *logrus.Entry
}

// transcribe runs one chunk call under the retry policy. It returns the
// segments and the key that finally succeeded, so the next chunk starts from
// the same credential.
func (r *retrier) transcribe(ctx context.Context, key *types.KeyAssignment, model string, wav []byte) ([]types.Segment, *types.KeyAssignment, error) {
	listSize, err := r.pool.ListSize(r.scope)
	if err != nil {
		return nil, key, err
	}
	maxAttempts := r.factor * listSize
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var segments []types.Segment
	attempts := 0

	op := func() error {
		if attempts >= maxAttempts {
			return backoff.Permanent(ErrRateLimitExhausted)
		}
		attempts++

		out, err := r.client.Transcribe(ctx, key.Key, model, wav)
		if err == nil {
			segments = out
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Transient() {
			next, perr := r.pool.SelectNext(r.scope)
			if perr != nil {
				return backoff.Permanent(perr)
			}
			if next == nil {
				return backoff.Permanent(ErrNoKeysAvailable)
			}
			r.log.WithFields(logrus.Fields{
				"attempt": attempts,
				"status":  apiErr.Status,
				"timeout": apiErr.Timeout,
				"next_key": next.VisualID,
				"next_owner": next.Owner,
			}).Warn("transient api failure, rotating key")
			key = next
			if r.onReassign != nil {
				r.onReassign(next)
			}
			return err
		}
		return backoff.Permanent(err)
	}

	// Constant backoff bound to the job context: a cancel during the wait
	// aborts with ctx.Err(), which outranks any retry bookkeeping.
	if err := backoff.Retry(op, backoff.WithContext(r.wait, ctx)); err != nil {
		return nil, key, err
	}
	return segments, key, nil
}
