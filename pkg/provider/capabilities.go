package provider

import "context"

// Optional provider capability interfaces.
//
// These interfaces are used for feature detection (type assertions). The core
// Provider interface remains intentionally small; a backend that lacks a
// capability yields ErrUnsupported from the helpers below rather than a
// missing method.

// Remover can delete a single file.
type Remover interface {
	Remove(ctx context.Context, path string) error
}

// ContainerRemover can delete an empty directory.
//
// Implementations return ErrNotEmpty when the directory still has children.
type ContainerRemover interface {
	RemoveDir(ctx context.Context, path string) error
}

// DirMaker can create a single directory level.
//
// Creating a directory that already exists is not an error.
type DirMaker interface {
	MakeDir(ctx context.Context, path string) error
}

// Renamer can rename a file or directory without moving its bytes.
type Renamer interface {
	Rename(ctx context.Context, from, to string) error
}

// ServerCopier can copy a file between two paths of the same endpoint
// without routing the content through this process.
type ServerCopier interface {
	CopyWithin(ctx context.Context, from, to string) error
}

// LocalPather is implemented by backends whose paths are plain local files.
//
// The transfer layer uses it to skip the temp-file relay: the local side is
// read from or written to directly.
type LocalPather interface {
	LocalPath(path string) (string, bool)
}

// Remove deletes path using p's Remover capability.
func Remove(ctx context.Context, p Provider, path string) error {
	r, ok := p.(Remover)
	if !ok {
		return &ProviderError{Op: "Remove", Path: path, Err: ErrUnsupported}
	}
	return r.Remove(ctx, path)
}

// RemoveDir deletes the empty directory at path using p's ContainerRemover capability.
func RemoveDir(ctx context.Context, p Provider, path string) error {
	r, ok := p.(ContainerRemover)
	if !ok {
		return &ProviderError{Op: "RemoveDir", Path: path, Err: ErrUnsupported}
	}
	return r.RemoveDir(ctx, path)
}

// MakeDir creates the directory at path using p's DirMaker capability.
//
// Backends without directories (DirMaker absent) treat this as a no-op, since
// their directories come into existence with the first file written below them.
func MakeDir(ctx context.Context, p Provider, path string) error {
	m, ok := p.(DirMaker)
	if !ok {
		return nil
	}
	return m.MakeDir(ctx, path)
}

// Rename renames from to to using p's Renamer capability.
func Rename(ctx context.Context, p Provider, from, to string) error {
	r, ok := p.(Renamer)
	if !ok {
		return &ProviderError{Op: "Rename", Path: from, Err: ErrUnsupported}
	}
	return r.Rename(ctx, from, to)
}
