package middleware

import (
	"encoding/json"
	"fmt"

	"dario.cat/mergo"

	"github.com/jra3/domesync/internal/project"
	"github.com/jra3/domesync/internal/snapshot"
)

// metaFile is the on-disk shape of a ".meta.json" sidecar (spec.md §4.2
// Sidecar, and the literal "Model.meta.json" example in spec.md §8 S4).
type metaFile struct {
	ClassName             string                     `json:"className,omitempty"`
	Properties            map[string]json.RawMessage `json:"properties,omitempty"`
	IgnoreUnknownChildren bool                        `json:"ignoreUnknownChildren,omitempty"`
}

// mergeSidecar overlays a parsed meta sidecar onto base, the sidecar
// winning any conflicting property (spec.md §4.2: "the sidecar's values
// take precedence"). Implemented with dario.cat/mergo's override merge,
// the same composition primitive SPEC_FULL.md's DOMAIN STACK section
// grounds on go-git's config-layering use of mergo.
func mergeSidecar(base snapshot.Snapshot, data []byte, metaPath string) (snapshot.Snapshot, error) {
	var mf metaFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("parse sidecar %q: %w", metaPath, err)
	}

	overlayProps := snapshot.PropertyMap{}
	for k, raw := range mf.Properties {
		v, err := project.ToValue(raw)
		if err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("sidecar %q property %q: %w", metaPath, k, err)
		}
		overlayProps[k] = v
	}

	merged := base.Properties.Clone()
	if err := mergo.Merge(&merged, overlayProps, mergo.WithOverride); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("merge sidecar %q: %w", metaPath, err)
	}

	out := base
	out.Properties = merged
	if mf.ClassName != "" {
		out.ClassName = mf.ClassName
	}
	out.Flags.IgnoreUnknownChildren = out.Flags.IgnoreUnknownChildren || mf.IgnoreUnknownChildren
	return out, nil
}
