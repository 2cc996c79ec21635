// Package project parses the top-level project file that anchors a sync
// session (spec.md §6, the ".project.json"-suffixed file): a named tree of
// instance descriptors, each optionally bound to a filesystem path.
package project

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jra3/domesync/internal/snapshot"
)

// Project is the parsed contents of a project file.
type Project struct {
	Name string `json:"name"`
	Tree Node   `json:"tree"`
	// IgnorePaths lists paths, relative to the project file's directory,
	// that the watcher and middleware must never consider (spec.md §6).
	IgnorePaths []string `json:"ignorePaths,omitempty"`
}

// Node is one instance descriptor in a project file's tree. A Node may
// either bind a filesystem path (via Path) or declare a purely virtual
// instance with inline properties and nested Children, or both: Path
// supplies the base snapshot, Properties and Children extend it, same as
// a meta sidecar (spec.md §4.2 composition).
type Node struct {
	ClassName  string                     `json:"className,omitempty"`
	Path       string                     `json:"$path,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Children   map[string]Node            `json:"children,omitempty"`
}

// Parse decodes a project file's raw bytes. Unknown top-level and node
// fields are rejected (spec.md §6, "malformed project file ... reported
// through the error path"); encoding/json's DisallowUnknownFields gives
// that for free without a third-party schema validator.
//
// The wire format mirrors the literal ".project.json" example used in
// spec.md's own scenarios (S1, S4), so a JSON decoder is a format match,
// not a library gap (see DESIGN.md).
func Parse(data []byte) (Project, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p Project
	if err := dec.Decode(&p); err != nil {
		return Project{}, fmt.Errorf("parse project: %w", err)
	}
	if p.Name == "" {
		return Project{}, fmt.Errorf("parse project: missing name")
	}
	return p, nil
}

// ToValue decodes a single raw JSON property value into a snapshot.Value.
// Supported shapes: strings, booleans and numbers (as Float). Arrays,
// objects and null are rejected, so aggregate values such as Color3 or
// Vector3 cannot be written as property literals.
func ToValue(raw json.RawMessage) (snapshot.Value, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return snapshot.Value{}, err
	}
	switch v := generic.(type) {
	case string:
		return snapshot.String(v), nil
	case bool:
		return snapshot.Bool(v), nil
	case float64:
		return snapshot.Float(v), nil
	default:
		return snapshot.Value{}, fmt.Errorf("unsupported property literal: %T", generic)
	}
}
