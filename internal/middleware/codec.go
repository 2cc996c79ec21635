package middleware

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/jra3/domesync/internal/snapshot"
)

// ModelCodec decodes a structured "model" file's bytes into a full
// Snapshot (spec.md §4.2: "Structured data file bearing the model
// suffix → the file is parsed by an opaque codec into a snapshot").
//
// Real binary model container formats are explicitly out of scope
// (spec.md §1, "Binary model parsing libraries for container file
// formats are treated as opaque codecs"); ModelCodec is the seam a
// caller plugs a real one into.
type ModelCodec interface {
	Decode(path string, data []byte) (snapshot.Snapshot, error)
}

// wireSnapshot is the msgpack wire shape for MsgpackModelCodec, a
// deterministic stand-in for the real opaque codec (SPEC_FULL.md §4.2),
// grounded on gfbonny-cxdb/clients/go/fstree's msgpack tree-object wire
// format.
type wireSnapshot struct {
	ClassName string                    `msgpack:"class"`
	Name      string                    `msgpack:"name"`
	Strings   map[string]string         `msgpack:"strings,omitempty"`
	Children  []wireSnapshot            `msgpack:"children,omitempty"`
}

// MsgpackModelCodec decodes msgpack-encoded model files into Snapshots.
// Only string-valued properties are supported; it exists to exercise the
// rest of the engine (diffing, patch generation, determinism) without a
// real binary model parser.
type MsgpackModelCodec struct{}

func (MsgpackModelCodec) Decode(path string, data []byte) (snapshot.Snapshot, error) {
	var wire wireSnapshot
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("decode model %q: %w", path, err)
	}
	return wireToSnapshot(wire, path), nil
}

func wireToSnapshot(w wireSnapshot, path string) snapshot.Snapshot {
	props := make(snapshot.PropertyMap, len(w.Strings))
	for k, v := range w.Strings {
		props[k] = snapshot.String(v)
	}
	children := make([]snapshot.Snapshot, 0, len(w.Children))
	for _, c := range w.Children {
		children = append(children, wireToSnapshot(c, path))
	}
	return snapshot.New(w.ClassName, w.Name, props, children, "model", path)
}

// EncodeModel is the inverse of MsgpackModelCodec.Decode, used by tests
// and fixtures to author .model files without hand-writing msgpack bytes.
func EncodeModel(s snapshot.Snapshot) ([]byte, error) {
	return msgpack.Marshal(snapshotToWire(s))
}

func snapshotToWire(s snapshot.Snapshot) wireSnapshot {
	strs := make(map[string]string, len(s.Properties))
	for k, v := range s.Properties {
		if v.Kind() == snapshot.KindString {
			strs[k] = v.AsString()
		}
	}
	children := make([]wireSnapshot, 0, len(s.Children))
	for _, c := range s.Children {
		children = append(children, snapshotToWire(c))
	}
	return wireSnapshot{ClassName: s.ClassName, Name: s.Name, Strings: strs, Children: children}
}
