package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// NewBWLimiter creates a rate.Limiter that caps aggregate copy throughput
// to bytesPerSec. The burst is 1 MiB, or the whole rate when that is
// smaller. A non-positive rate returns nil (unlimited).
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := 1 << 20
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// ctxReader fails reads once ctx is done, so a long copy stops between
// buffers. A non-nil limiter additionally throttles each read; reads are
// capped at the burst because WaitN rejects larger requests.
type ctxReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	if cr.limiter != nil && len(p) > cr.limiter.Burst() {
		p = p[:cr.limiter.Burst()]
	}
	n, err := cr.r.Read(p)
	if n > 0 && cr.limiter != nil {
		if waitErr := waitN(cr.ctx, cr.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// waitN blocks until lim grants n tokens or ctx ends. Unlike
// rate.Limiter.WaitN it waits out a deadline that falls inside the delay,
// so the caller sees ctx.Err() rather than an early limiter error.
func waitN(ctx context.Context, lim *rate.Limiter, n int) error {
	res := lim.ReserveN(time.Now(), n)
	if !res.OK() {
		return fmt.Errorf("rate: %d bytes exceed burst %d", n, lim.Burst())
	}
	delay := res.Delay()
	if delay == 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}
