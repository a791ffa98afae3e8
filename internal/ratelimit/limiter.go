// Package ratelimit provides a rate-limited io.Writer wrapper around a
// token bucket, used to throttle outbound chunk bytes on the peer service
// endpoint. It is independent of, and applied in addition to, the
// tier-based service delay spec.md §4.3 mandates: the delay gates when
// sending starts, this gates how fast it proceeds once it has.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Limiter wraps a token bucket. A zero-value bytesPerSecond disables
// limiting entirely.
type Limiter struct {
	limiter *rate.Limiter
	enabled bool
}

// New creates a Limiter. bytesPerSecond <= 0 means unlimited.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return &Limiter{enabled: false}
	}

	burst := bytesPerSecond
	if burst < 64*1024 {
		burst = 64 * 1024
	}
	if burst > 4*1024*1024 {
		burst = 4 * 1024 * 1024
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
		enabled: true,
	}
}

// Enabled reports whether this limiter throttles.
func (l *Limiter) Enabled() bool { return l != nil && l.enabled }

// Writer wraps w so writes through it are throttled by l. If l is
// disabled (or nil), w is returned unwrapped.
func (l *Limiter) Writer(ctx context.Context, w io.Writer) io.Writer {
	if !l.Enabled() {
		return w
	}
	return &limitedWriter{ctx: ctx, w: w, limiter: l.limiter}
}

type limitedWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if err := lw.limiter.WaitN(lw.ctx, len(p)); err != nil {
		return 0, err
	}
	return lw.w.Write(p)
}
