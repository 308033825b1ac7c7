package transfer

import (
	"context"
	"fmt"
	"path"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

// remove deletes a file, or a directory bottom-up. report controls nested
// completions; a move's source cleanup does not report them because the
// copy already did.
func (x *xfer) remove(ctx context.Context, src side, entry *provider.Entry, report bool) error {
	if path.Clean(src.path) == "/" {
		return fmt.Errorf("%s: %w", src.uri, ErrRootDelete)
	}
	if !entry.IsDir {
		return provider.Remove(ctx, src.ep.Provider, src.path)
	}
	_, err := x.removeTree(ctx, src, "", report)
	return err
}

// removeTree empties dir and then removes it. Sub-directories are descended
// into when Recursive is set or during a move; otherwise they are removed
// only if already empty. kept reports that a filtered entry was left
// behind, in which case dir itself stays.
func (x *xfer) removeTree(ctx context.Context, dir side, rel string, report bool) (kept bool, err error) {
	children, err := dir.ep.Provider.List(ctx, dir.path)
	if err != nil {
		return false, err
	}

	descend := x.opts.Recursive || !report
	var errs walkErrs
	for i := range children {
		c := &children[i]
		childRel := path.Join(rel, c.Name)
		if !x.sel.keep(childRel, c) {
			kept = true
			continue
		}
		if x.t.cancelled() {
			return kept, ErrCancelled
		}

		child := dir.child(c.Name)
		var childKept bool
		switch {
		case c.IsDir && descend:
			childKept, err = x.removeTree(ctx, child, childRel, report)
		case c.IsDir:
			err = provider.RemoveDir(ctx, child.ep.Provider, child.path)
		default:
			err = provider.Remove(ctx, child.ep.Provider, child.path)
		}
		kept = kept || childKept
		if stop := x.nested(child, side{}, 0, err, report, &errs); stop != nil {
			return kept, stop
		}
	}
	if err := errs.err(dir.uri); err != nil {
		return kept, err
	}
	if kept {
		return true, nil
	}
	return false, provider.RemoveDir(ctx, dir.ep.Provider, dir.path)
}
