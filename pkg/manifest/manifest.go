// Package manifest provides loading and validation of nimbusfs batch manifests.
//
// A batch manifest is a YAML or JSON file naming one operation, the options
// it runs with, and the items it applies to.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	operation: copy
//	options:
//	  recursive: true
//	  continue_on_error: true
//	  excludes:
//	    - "**/_temporary/**"
//	  filters:
//	    size:
//	      min: 1KiB
//	items:
//	  - src: s3://bucket/data/2024/
//	    dst: file:///srv/mirror/2024/
//	  - src: mem://scratch/report.csv
//	    dst: sftp://backup@host/reports/report.csv
package manifest

import (
	"github.com/3leaps/nimbusfs/pkg/match"
	"github.com/3leaps/nimbusfs/pkg/transfer"
)

// Manifest represents a validated batch manifest.
//
// Required fields are Version, Operation, and Items. Options is optional;
// every option defaults to off.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Operation is one of copy, move, rename, or delete.
	Operation string `json:"operation" yaml:"operation"`

	// Options apply to every item.
	Options OptionsConfig `json:"options,omitempty" yaml:"options,omitempty"`

	// Items are processed in order of submission, several at a time.
	Items []transfer.Item `json:"items" yaml:"items"`
}

// OptionsConfig mirrors transfer.Options in manifest form.
type OptionsConfig struct {
	Recursive       bool `json:"recursive,omitempty" yaml:"recursive,omitempty"`
	Overwrite       bool `json:"overwrite,omitempty" yaml:"overwrite,omitempty"`
	ContinueOnError bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`

	// Includes and Excludes are glob patterns relative to each directory item.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`

	// SkipHidden drops dot-files and dot-directories during walks.
	SkipHidden bool `json:"skip_hidden,omitempty" yaml:"skip_hidden,omitempty"`

	// Filters specifies metadata-based filters with AND semantics.
	Filters *match.FilterConfig `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// DefaultVersion is the current manifest schema version.
const DefaultVersion = "1.0"

// Op returns the manifest operation.
func (m *Manifest) Op() transfer.Op {
	return transfer.Op(m.Operation)
}

// TransferOptions converts the manifest options for the engine. host may be
// nil.
func (m *Manifest) TransferOptions(host transfer.Host) transfer.Options {
	o := m.Options
	return transfer.Options{
		Recursive:       o.Recursive,
		Overwrite:       o.Overwrite,
		ContinueOnError: o.ContinueOnError,
		Includes:        o.Includes,
		Excludes:        o.Excludes,
		SkipHidden:      o.SkipHidden,
		Filter:          o.Filters,
		Host:            host,
	}
}
