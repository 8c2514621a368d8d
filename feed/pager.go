package feed

import (
	"context"

	"bunnyup/models"
)

// Fetcher loads the newest posts, up to limit, ordered by descending
// creation time
type Fetcher interface {
	FetchPosts(ctx context.Context, limit int) ([]models.Post, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, limit int) ([]models.Post, error)

func (f FetcherFunc) FetchPosts(ctx context.Context, limit int) ([]models.Post, error) {
	return f(ctx, limit)
}

// Pager grows the requested limit by a fixed step on every successful fetch.
// The feed is exhausted once a fetch returns fewer rows than requested.
type Pager struct {
	fetcher   Fetcher
	step      int
	limit     int
	exhausted bool
}

func NewPager(fetcher Fetcher, step int) *Pager {
	if step <= 0 {
		step = 10
	}
	return &Pager{fetcher: fetcher, step: step}
}

// Next fetches the next, larger page. A failed fetch leaves the limit where it
// was so calling Next again retries the same page.
func (p *Pager) Next(ctx context.Context) ([]models.Post, bool, error) {
	limit := p.limit + p.step
	posts, err := p.fetcher.FetchPosts(ctx, limit)
	if err != nil {
		return nil, p.exhausted, err
	}

	p.limit = limit
	p.exhausted = len(posts) < limit
	return posts, p.exhausted, nil
}

// Limit is the limit used by the last successful fetch
func (p *Pager) Limit() int {
	return p.limit
}

func (p *Pager) Exhausted() bool {
	return p.exhausted
}
