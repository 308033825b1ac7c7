package transfer

import (
	"context"
	"fmt"
	"path"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

// copyEntry copies a file or a directory tree. counted means the file's
// progress units are already in the operation total. fresh means dst is
// known not to exist, so the overwrite check is skipped.
func (x *xfer) copyEntry(ctx context.Context, src, dst side, entry *provider.Entry, counted, fresh bool) (int64, error) {
	if entry.IsDir {
		return x.copyTree(ctx, src, dst, "", fresh)
	}
	return x.copyFile(ctx, src, dst, entry, counted, fresh)
}

func (x *xfer) copyTree(ctx context.Context, src, dst side, rel string, fresh bool) (int64, error) {
	existed := false
	if !fresh {
		var err error
		if existed, err = x.prepare(ctx, dst, true); err != nil {
			return 0, err
		}
	}
	if !existed {
		if err := provider.MakeDir(ctx, dst.ep.Provider, dst.path); err != nil {
			return 0, err
		}
	}

	children, err := src.ep.Provider.List(ctx, src.path)
	if err != nil {
		return 0, err
	}

	var total int64
	var errs walkErrs
	for i := range children {
		c := &children[i]
		childRel := path.Join(rel, c.Name)
		if !x.sel.keep(childRel, c) {
			continue
		}
		if x.t.cancelled() {
			return total, ErrCancelled
		}

		cs, cd := src.child(c.Name), dst.child(c.Name)
		var n int64
		if c.IsDir {
			n, err = x.copyTree(ctx, cs, cd, childRel, !existed)
		} else {
			n, err = x.copyFile(ctx, cs, cd, c, false, !existed)
		}
		total = addBytes(total, n)
		if stop := x.nested(cs, cd, n, err, true, &errs); stop != nil {
			return total, stop
		}
	}
	return total, errs.err(src.uri)
}

func (x *xfer) copyFile(ctx context.Context, src, dst side, entry *provider.Entry, counted, fresh bool) (int64, error) {
	if !fresh {
		if _, err := x.prepare(ctx, dst, false); err != nil {
			return 0, err
		}
	}
	kind := x.e.strategy(src.ep, dst.ep)
	fp := x.t.file(src.uri, dst.uri, kind.units(entry.Size), x.stream, counted)
	n, err := x.e.relay(ctx, kind, src, dst, entry.Size, fp)
	if err != nil {
		return n, err
	}
	fp.finish()
	return n, nil
}

// prepare applies the overwrite policy to dst before writing a file (dir
// false) or merging a directory (dir true) there. It reports whether dst
// already existed.
//
// Without Overwrite any existing dst fails with provider.ErrAlreadyExists.
// With it an existing file is deleted and an existing directory is merged
// into. A file and a directory never replace each other.
func (x *xfer) prepare(ctx context.Context, dst side, dir bool) (bool, error) {
	existing, err := dst.ep.Provider.Stat(ctx, dst.path)
	if provider.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !x.opts.Overwrite {
		return true, fmt.Errorf("%s: %w", dst.uri, provider.ErrAlreadyExists)
	}
	if existing.IsDir != dir {
		return true, fmt.Errorf("%s: %w with a different type", dst.uri, provider.ErrAlreadyExists)
	}
	if dir {
		return true, nil
	}
	err = provider.Remove(ctx, dst.ep.Provider, dst.path)
	if err != nil && !provider.IsNotFound(err) && !provider.IsUnsupported(err) {
		return true, err
	}
	return true, nil
}
