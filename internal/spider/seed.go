package spider

import (
	"context"

	"github.com/webants/webants/internal/request"
)

// SeedSource yields the initial Requests a crawl admits before it
// starts pulling discovered links out of callbacks. Implementations
// must close the returned channel once exhausted and stop sending
// once ctx is done.
type SeedSource interface {
	Seeds(ctx context.Context) <-chan *request.Request
}

// StaticSeeds is a SeedSource over a fixed, in-memory slice of
// Requests, useful for tests and simple single-shot crawls.
type StaticSeeds struct {
	requests []*request.Request
}

// NewStaticSeeds builds a StaticSeeds over reqs.
func NewStaticSeeds(reqs []*request.Request) StaticSeeds {
	return StaticSeeds{requests: reqs}
}

func (s StaticSeeds) Seeds(ctx context.Context) <-chan *request.Request {
	ch := make(chan *request.Request)
	go func() {
		defer close(ch)
		for _, req := range s.requests {
			select {
			case ch <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

var _ SeedSource = StaticSeeds{}
