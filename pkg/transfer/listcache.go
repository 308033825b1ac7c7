package transfer

import (
	"context"
	"path"

	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/provider"
)

// listCache answers stats for batch planning from parent listings, so a
// batch of siblings costs one List instead of one Stat per item. A nil
// cache stats directly.
type listCache struct {
	dirs map[string]map[string]provider.Entry
}

func newListCache() *listCache {
	return &listCache{dirs: make(map[string]map[string]provider.Entry)}
}

func (c *listCache) stat(ctx context.Context, ep *location.Endpoint, p string) (*provider.Entry, error) {
	p = path.Clean("/" + p)
	if c == nil || p == "/" {
		return ep.Provider.Stat(ctx, p)
	}

	dir, name := path.Split(p)
	dir = path.Clean(dir)
	key := ep.Conn.Key() + "\x00" + dir

	entries, ok := c.dirs[key]
	if !ok {
		list, err := ep.Provider.List(ctx, dir)
		switch {
		case provider.IsNotFound(err):
			entries = map[string]provider.Entry{}
		case err != nil:
			// Listing may be denied where a stat is not.
			return ep.Provider.Stat(ctx, p)
		default:
			entries = make(map[string]provider.Entry, len(list))
			for _, e := range list {
				entries[e.Name] = e
			}
		}
		c.dirs[key] = entries
	}

	e, ok := entries[name]
	if !ok {
		return nil, &provider.ProviderError{Op: "Stat", Provider: ep.Conn.Scheme, Path: p, Err: provider.ErrNotFound}
	}
	return &e, nil
}
