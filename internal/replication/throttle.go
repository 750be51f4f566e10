// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// ThrottledWriter limita a taxa de bytes/s escrita a um replica, evitando
// que um FULLRESYNC ou um fan-out de escrita intenso sature o link de um
// replica mais lento que os demais. bytesPerSec<=0 desabilita o limite.
type ThrottledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledWriter envolve w com um limitador de taxa de token bucket.
func NewThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}
	return &ThrottledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec),
		ctx:     ctx,
	}
}

func (t *ThrottledWriter) Write(p []byte) (int, error) {
	burst := t.limiter.Burst()
	var written int
	for written < len(p) {
		chunk := len(p) - written
		if chunk > burst {
			chunk = burst
		}
		if err := t.limiter.WaitN(t.ctx, chunk); err != nil {
			return written, err
		}
		n, err := t.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
