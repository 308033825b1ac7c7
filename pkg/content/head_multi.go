package content

import (
	"context"
	"sync"
)

// HeadBytesMulti reads the first n bytes from many files in parallel.
//
// Results are sent on the returned channel as they complete; Index gives
// each result's position in uris.
func HeadBytesMulti(ctx context.Context, r Resolver, uris []string, n int64, parallel int) <-chan HeadBytesResult {
	if parallel <= 0 {
		parallel = 4
	}

	out := make(chan HeadBytesResult, parallel)
	work := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				res := HeadBytesResult{Index: idx, URI: uris[idx]}
				ep, path, err := r.Resolve(ctx, uris[idx])
				if err != nil {
					res.Err = err
				} else {
					res.Data, res.Entry, res.Err = HeadBytes(ctx, ep.Provider, path, n)
				}
				select {
				case out <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for i := range uris {
			select {
			case work <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
