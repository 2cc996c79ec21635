// Package snapcache memoizes Snapshot Middleware recomputes, keyed by a
// path and the blake3 content hash of its inputs, in a local SQLite
// database (spec.md §4.2 Recompute Scope: "a path whose contributing
// inputs are unchanged ... need not be recomputed").
//
// This is a middleware-local cache, not Tree persistence (spec.md §1
// Non-goals: "Durable storage or persistence of the Tree across process
// restarts is out of scope") — entries here are reconstructible from the
// filesystem at any time and are never the source of truth.
package snapcache

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/jra3/domesync/internal/snapshot"
)

// wireProperty mirrors snapshot.Value and wireEntry mirrors
// snapshot.Snapshot for msgpack encoding; unexported fields on
// snapshot.Value require going through its own constructors, so
// round-tripping uses the same property-map shape snapshot.PropertyMap
// already supports via its exported Value accessors.
type wireProperty struct {
	Kind  int            `msgpack:"k"`
	Str   string         `msgpack:"s,omitempty"`
	Bool  bool           `msgpack:"b,omitempty"`
	I64   int64          `msgpack:"i,omitempty"`
	F64   float64        `msgpack:"f,omitempty"`
	Vec3  [3]float64     `msgpack:"v,omitempty"`
	Arr   []wireProperty `msgpack:"a,omitempty"`
	Ref   string         `msgpack:"r,omitempty"`
}

type wireEntry struct {
	ClassName             string                  `msgpack:"class"`
	Name                  string                  `msgpack:"name"`
	Properties            map[string]wireProperty `msgpack:"props"`
	Children              []wireEntry             `msgpack:"children,omitempty"`
	ContributingPaths     []string                `msgpack:"paths,omitempty"`
	Middleware            string                  `msgpack:"mw"`
	Error                 bool                    `msgpack:"err,omitempty"`
	IgnoreUnknownChildren bool                    `msgpack:"iuc,omitempty"`
	ExplicitProperties    map[string]bool         `msgpack:"ep,omitempty"`
}

// Cache is a middleware.RecomputeCache backed by modernc.org/sqlite, the
// pure-Go SQLite driver this domain stack's pack carries (grounded on
// jra3-linear-fuse's use of a local SQLite metadata store for cached
// FUSE attributes, adapted here to cache Snapshots instead of inode
// metadata; see DESIGN.md).
type Cache struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path (":memory:" for a
// purely in-process cache, used by tests).
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapcache: open %q: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		path TEXT NOT NULL,
		hash TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (path, hash)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapcache: migrate: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Get looks up the cached Snapshot for (path, hash).
func (c *Cache) Get(ctx context.Context, p string, hash [32]byte) (snapshot.Snapshot, bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE path = ? AND hash = ?`, p, hex.EncodeToString(hash[:]))
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return snapshot.Snapshot{}, false, nil
		}
		return snapshot.Snapshot{}, false, err
	}
	var w wireEntry
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return snapshot.Snapshot{}, false, err
	}
	return wireToSnapshot(w), true, nil
}

// Put stores snap under (path, hash), replacing any prior entry for path
// under a different hash (a stale hash can never be looked up again, so
// it is pruned opportunistically on write).
func (c *Cache) Put(ctx context.Context, p string, hash [32]byte, snap snapshot.Snapshot) error {
	data, err := msgpack.Marshal(snapshotToWire(snap))
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM snapshots WHERE path = ? AND hash != ?`, p, hex.EncodeToString(hash[:])); err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `INSERT OR REPLACE INTO snapshots (path, hash, data) VALUES (?, ?, ?)`, p, hex.EncodeToString(hash[:]), data)
	return err
}

func snapshotToWire(s snapshot.Snapshot) wireEntry {
	props := make(map[string]wireProperty, len(s.Properties))
	for k, v := range s.Properties {
		props[k] = valueToWire(v)
	}
	children := make([]wireEntry, 0, len(s.Children))
	for _, c := range s.Children {
		children = append(children, snapshotToWire(c))
	}
	return wireEntry{
		ClassName:             s.ClassName,
		Name:                  s.Name,
		Properties:            props,
		Children:              children,
		ContributingPaths:     s.ContributingPaths,
		Middleware:            s.Middleware,
		Error:                 s.Flags.Error,
		IgnoreUnknownChildren: s.Flags.IgnoreUnknownChildren,
		ExplicitProperties:    s.Flags.ExplicitProperties,
	}
}

func wireToSnapshot(w wireEntry) snapshot.Snapshot {
	props := make(snapshot.PropertyMap, len(w.Properties))
	for k, v := range w.Properties {
		props[k] = wireToValue(v)
	}
	children := make([]snapshot.Snapshot, 0, len(w.Children))
	for _, c := range w.Children {
		children = append(children, wireToSnapshot(c))
	}
	s := snapshot.New(w.ClassName, w.Name, props, children, w.Middleware, w.ContributingPaths...)
	s.Flags = snapshot.Flags{
		Error:                 w.Error,
		IgnoreUnknownChildren: w.IgnoreUnknownChildren,
		ExplicitProperties:    w.ExplicitProperties,
	}
	return s
}

func valueToWire(v snapshot.Value) wireProperty {
	switch v.Kind() {
	case snapshot.KindBool:
		return wireProperty{Kind: int(snapshot.KindBool), Bool: v.AsBool()}
	case snapshot.KindInt:
		return wireProperty{Kind: int(snapshot.KindInt), I64: v.AsInt()}
	case snapshot.KindFloat:
		return wireProperty{Kind: int(snapshot.KindFloat), F64: v.AsFloat()}
	case snapshot.KindColor3:
		c := v.AsColor3()
		return wireProperty{Kind: int(snapshot.KindColor3), Vec3: [3]float64{c.R, c.G, c.B}}
	case snapshot.KindVector3:
		vec := v.AsVector3()
		return wireProperty{Kind: int(snapshot.KindVector3), Vec3: [3]float64{vec.X, vec.Y, vec.Z}}
	case snapshot.KindArray:
		items := v.AsArray()
		arr := make([]wireProperty, 0, len(items))
		for _, item := range items {
			arr = append(arr, valueToWire(item))
		}
		return wireProperty{Kind: int(snapshot.KindArray), Arr: arr}
	case snapshot.KindRef:
		return wireProperty{Kind: int(snapshot.KindRef), Ref: v.AsRef()}
	default:
		return wireProperty{Kind: int(snapshot.KindString), Str: v.AsString()}
	}
}

func wireToValue(w wireProperty) snapshot.Value {
	switch snapshot.ValueKind(w.Kind) {
	case snapshot.KindBool:
		return snapshot.Bool(w.Bool)
	case snapshot.KindInt:
		return snapshot.Int(w.I64)
	case snapshot.KindFloat:
		return snapshot.Float(w.F64)
	case snapshot.KindColor3:
		return snapshot.FromColor3(snapshot.Color3{R: w.Vec3[0], G: w.Vec3[1], B: w.Vec3[2]})
	case snapshot.KindVector3:
		return snapshot.FromVector3(snapshot.Vector3{X: w.Vec3[0], Y: w.Vec3[1], Z: w.Vec3[2]})
	case snapshot.KindArray:
		items := make([]snapshot.Value, 0, len(w.Arr))
		for _, item := range w.Arr {
			items = append(items, wireToValue(item))
		}
		return snapshot.Array(items...)
	case snapshot.KindRef:
		return snapshot.Ref(w.Ref)
	default:
		return snapshot.String(w.Str)
	}
}
