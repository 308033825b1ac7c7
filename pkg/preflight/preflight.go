// Package preflight checks that the endpoints of an operation allow what it
// needs before any data moves.
//
// Results are reported as an output.PreflightRecord so they can be emitted
// ahead of the item records of the operation itself.
package preflight

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/output"
	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/transfer"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModePlanOnly records the mode and checks nothing.
	ModePlanOnly Mode = "plan-only"

	// ModeReadSafe only stats and lists.
	ModeReadSafe Mode = "read-safe"

	// ModeWriteProbe also writes and removes a marker file at each
	// destination directory.
	ModeWriteProbe Mode = "write-probe"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePlanOnly, ModeReadSafe, ModeWriteProbe:
		return m, nil
	default:
		return "", fmt.Errorf("unknown preflight mode %q (plan-only, read-safe, write-probe)", s)
	}
}

// Capability names are stable strings used in JSONL output.
const (
	CapSourceStat   = "source.stat"
	CapSourceList   = "source.list"
	CapSourceDelete = "source.delete"
	CapTargetStat   = "target.stat"
	CapTargetWrite  = "target.write"
)

// probeName prefixes write-probe marker files. It starts with
// provider.TempPrefix so walks treat leftovers like abandoned uploads.
const probeName = provider.TempPrefix + "preflight-"

// Run checks every item of op in order and stops at the first denied
// check, returning its error. Identical checks on one endpoint run once.
func Run(ctx context.Context, resolver transfer.Resolver, op transfer.Op, items []transfer.Item, mode Mode) (*output.PreflightRecord, error) {
	c := &checker{
		resolver: resolver,
		mode:     mode,
		rec:      &output.PreflightRecord{Mode: string(mode), Results: []output.PreflightCheckResult{}},
		seen:     map[string]bool{},
	}
	if mode == ModePlanOnly {
		return c.rec, nil
	}
	if mode == ModeWriteProbe {
		c.rec.ProbeStrategy = "put-delete"
		c.rec.ProbePrefix = probeName
	}

	for _, it := range items {
		if err := c.item(ctx, op, it); err != nil {
			return c.rec, err
		}
	}
	return c.rec, nil
}

type checker struct {
	resolver transfer.Resolver
	mode     Mode
	rec      *output.PreflightRecord
	seen     map[string]bool
}

func (c *checker) item(ctx context.Context, op transfer.Op, it transfer.Item) error {
	srcEp, srcPath, err := c.resolver.Resolve(ctx, it.Src)
	if err != nil {
		return c.deny(CapSourceStat, "Resolve", err)
	}

	entry, err := c.stat(ctx, CapSourceStat, srcEp, srcPath)
	if err != nil {
		return err
	}
	if entry != nil && entry.IsDir {
		if err := c.list(ctx, srcEp, srcPath); err != nil {
			return err
		}
	}

	if op != transfer.OpCopy {
		if err := c.removable(srcEp, op); err != nil {
			return err
		}
	}
	if op == transfer.OpDelete {
		return nil
	}

	dstEp, dstPath := srcEp, path.Join(path.Dir(srcPath), it.Dst)
	if op != transfer.OpRename || strings.Contains(it.Dst, "/") {
		dstEp, dstPath, err = c.resolver.Resolve(ctx, it.Dst)
		if err != nil {
			return c.deny(CapTargetStat, "Resolve", err)
		}
	}
	return c.target(ctx, dstEp, dstPath)
}

// target checks the directory a destination will be written into: dst
// itself when it is an existing directory, otherwise its nearest existing
// ancestor.
func (c *checker) target(ctx context.Context, ep *location.Endpoint, dst string) error {
	dir := dst
	for {
		e, err := ep.Provider.Stat(ctx, dir)
		if err == nil && e.IsDir {
			break
		}
		if err != nil && !provider.IsNotFound(err) {
			return c.deny(CapTargetStat, fmt.Sprintf("Stat(%s)", dir), err)
		}
		if dir == "/" {
			break
		}
		dir = path.Dir(dir)
	}
	if !c.once(ep, CapTargetStat, dir) {
		return nil
	}
	c.allow(CapTargetStat, fmt.Sprintf("Stat(%s)", dir))

	if c.mode != ModeWriteProbe {
		return nil
	}
	probe := path.Join(dir, probeName+uuid.NewString())
	method := fmt.Sprintf("Upload+Remove(%s)", probe)
	if _, err := ep.Provider.Upload(ctx, probe, bytes.NewReader(nil), 0, nil); err != nil {
		return c.deny(CapTargetWrite, method, err)
	}
	if err := provider.Remove(ctx, ep.Provider, probe); err != nil && !provider.IsNotFound(err) {
		return c.deny(CapTargetWrite, method, fmt.Errorf("probe written but not removed: %w", err))
	}
	c.allow(CapTargetWrite, method)
	return nil
}

func (c *checker) stat(ctx context.Context, capability string, ep *location.Endpoint, p string) (*provider.Entry, error) {
	if !c.once(ep, capability, p) {
		return nil, nil
	}
	method := fmt.Sprintf("Stat(%s)", p)
	e, err := ep.Provider.Stat(ctx, p)
	if err != nil {
		return nil, c.deny(capability, method, err)
	}
	c.allow(capability, method)
	return e, nil
}

func (c *checker) list(ctx context.Context, ep *location.Endpoint, dir string) error {
	if !c.once(ep, CapSourceList, dir) {
		return nil
	}
	method := fmt.Sprintf("List(%s)", dir)
	if _, err := ep.Provider.List(ctx, dir); err != nil {
		return c.deny(CapSourceList, method, err)
	}
	c.allow(CapSourceList, method)
	return nil
}

// removable checks the capability only; nothing is deleted. A rename is
// satisfied by a Renamer alone.
func (c *checker) removable(ep *location.Endpoint, op transfer.Op) error {
	if !c.once(ep, CapSourceDelete, "") {
		return nil
	}
	if _, ok := ep.Provider.(provider.Renamer); ok && op == transfer.OpRename {
		c.allow(CapSourceDelete, "Renamer")
		return nil
	}
	if _, ok := ep.Provider.(provider.Remover); !ok {
		return c.deny(CapSourceDelete, "Remover", &provider.ProviderError{
			Op: "Remove", Provider: ep.Conn.Scheme, Err: provider.ErrUnsupported,
		})
	}
	c.allow(CapSourceDelete, "Remover")
	return nil
}

func (c *checker) once(ep *location.Endpoint, capability, p string) bool {
	key := ep.Conn.Key() + "\x00" + capability + "\x00" + p
	if c.seen[key] {
		return false
	}
	c.seen[key] = true
	return true
}

func (c *checker) allow(capability, method string) {
	c.rec.Results = append(c.rec.Results, output.PreflightCheckResult{
		Capability: capability,
		Allowed:    true,
		Method:     method,
	})
}

func (c *checker) deny(capability, method string, err error) error {
	c.rec.Results = append(c.rec.Results, output.PreflightCheckResult{
		Capability: capability,
		Allowed:    false,
		Method:     method,
		ErrorCode:  transfer.ErrorCode(err),
		Detail:     err.Error(),
	})
	return err
}
