package fetch

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

type fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Paced spaces successive fetches at least minDelay apart so several
// searches in one run do not hit the site back to back.
type Paced struct {
	next    fetcher
	limiter *rate.Limiter
}

func NewPaced(next fetcher, minDelay time.Duration) *Paced {
	limit := rate.Inf
	if minDelay > 0 {
		limit = rate.Every(minDelay)
	}
	return &Paced{
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (p *Paced) Fetch(ctx context.Context, url string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return p.next.Fetch(ctx, url)
}
