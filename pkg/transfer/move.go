package transfer

import (
	"context"
	"path"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

// move renames within an endpoint when possible, and otherwise copies the
// tree and deletes the source once every entry arrived.
func (x *xfer) move(ctx context.Context, src, dst side, entry *provider.Entry) (int64, error) {
	renameable := false
	if src.ep.Conn.SameEndpoint(dst.ep.Conn) {
		_, renameable = src.ep.Provider.(provider.Renamer)
	}
	if renameable {
		done, err := x.tryRename(ctx, src, dst, entry)
		if done || err != nil {
			return 0, err
		}
	}

	// Units for a renameable file were not planned; count them now.
	n, err := x.copyEntry(ctx, src, dst, entry, !renameable, false)
	if err != nil {
		return n, err
	}
	return n, x.remove(ctx, src, entry, false)
}

// rename is a move that must stay on one endpoint. Backends without a
// Renamer fall back to copy and delete.
func (x *xfer) rename(ctx context.Context, src, dst side, entry *provider.Entry) (int64, error) {
	if _, ok := src.ep.Provider.(provider.Renamer); ok {
		done, err := x.tryRename(ctx, src, dst, entry)
		if done || err != nil {
			return 0, err
		}
	}
	if !entry.IsDir {
		x.t.addTotal(x.e.strategy(src.ep, dst.ep).units(entry.Size))
	}
	n, err := x.copyEntry(ctx, src, dst, entry, true, false)
	if err != nil {
		return n, err
	}
	return n, x.remove(ctx, src, entry, false)
}

// tryRename applies the overwrite policy and renames. done is false when
// the caller should fall back to copy and delete: when merging into an
// existing directory, or when the backend declines the rename.
func (x *xfer) tryRename(ctx context.Context, src, dst side, entry *provider.Entry) (bool, error) {
	if x.t.cancelled() {
		return false, ErrCancelled
	}
	existed, err := x.prepare(ctx, dst, entry.IsDir)
	if err != nil {
		return false, err
	}
	if existed && entry.IsDir {
		return false, nil
	}
	if err := provider.MakeDir(ctx, dst.ep.Provider, path.Dir(dst.path)); err != nil {
		return false, err
	}
	err = provider.Rename(ctx, src.ep.Provider, src.path, dst.path)
	if provider.IsUnsupported(err) {
		return false, nil
	}
	return err == nil, err
}
