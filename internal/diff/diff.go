// Package diff computes the minimal Patch Batch that turns a Tree
// subtree into a freshly computed target Snapshot (spec.md §4.4), and
// applies a Batch back onto the Tree atomically.
//
// Child matching is grounded on go-git's merkletrie noder-diff approach
// (match by stable identity first, fall back to name+class, everything
// left over is a pure add or pure remove) — see DESIGN.md. A matched
// pair that changed position realizes the reorder as a Remove+Add pair,
// since neither this diff nor the target domain has a move primitive.
package diff

import (
	"sort"

	"github.com/google/uuid"

	"github.com/jra3/domesync/internal/snapshot"
	"github.com/jra3/domesync/internal/tree"
)

// Diff compares the Tree's current subtree at rootID against target,
// producing the patches that would bring the Tree in line with target
// (spec.md §4.4). rootID's own class/name/properties are compared too;
// the root itself is never Added/Removed by this call.
func Diff(tr *tree.Tree, rootID uuid.UUID, target snapshot.Snapshot) (snapshot.Batch, error) {
	cur, err := tr.Get(rootID)
	if err != nil {
		return nil, err
	}
	var batch snapshot.Batch
	diffNode(tr, rootID, cur, target, &batch)
	return batch, nil
}

// diffNode compares the live instance cur (at id) against target and
// recurses into matched children, appending patches to batch.
//
// Matched children whose relative order already agrees with target's
// order are recursed into in place (preserving identity); matched
// children that are out of order are realized with a Remove+Add pair
// rather than an in-place move, since no move primitive exists (spec.md
// §4.4 step 5).
func diffNode(tr *tree.Tree, id uuid.UUID, cur tree.View, target snapshot.Snapshot, batch *snapshot.Batch) {
	if upd := updatePatch(id, cur, target); !upd.IsEmpty() {
		*batch = append(*batch, upd)
	}

	oldChildren := make([]tree.View, 0, len(cur.Children))
	for _, childID := range cur.Children {
		if v, err := tr.Get(childID); err == nil {
			oldChildren = append(oldChildren, v)
		}
	}

	matches, removedOld, addedNew := matchChildren(oldChildren, target.Children)
	sort.Slice(matches, func(i, j int) bool { return matches[i].newIndex < matches[j].newIndex })
	keep := inOrderMatches(matches)

	// ignore-unknown-children (spec.md §4.2, sidecar-settable) suppresses
	// removal of old children the middleware didn't produce; matched
	// children are still recursed and reordered normally.
	if !cur.Flags.IgnoreUnknownChildren && !target.Flags.IgnoreUnknownChildren {
		for _, idx := range removedOld {
			*batch = append(*batch, snapshot.Removed(oldChildren[idx].ID))
		}
	}
	for i, m := range matches {
		if !keep[i] {
			*batch = append(*batch, snapshot.Removed(m.oldView.ID))
		}
	}
	for i, m := range matches {
		if keep[i] {
			diffNode(tr, m.oldView.ID, m.oldView, target.Children[m.newIndex], batch)
		}
	}
	// Added patches go out in ascending target index, so each insertion
	// lands at its target position.
	adds := append([]int(nil), addedNew...)
	for i, m := range matches {
		if !keep[i] {
			adds = append(adds, m.newIndex)
		}
	}
	sort.Ints(adds)
	for _, idx := range adds {
		*batch = append(*batch, snapshot.Added(target.Children[idx], id, idx))
	}
}

// inOrderMatches reports, for matches already sorted by newIndex, which
// entries can stay in place without a Remove+Add pair: the longest
// subsequence whose oldIndex values are strictly increasing is exactly
// the maximal set of matched children whose relative order survives
// unchanged into target's order (spec.md §4.4 step 5, "the minimum
// sequence of Add/Remove pairs to realize the new order").
func inOrderMatches(matches []match) []bool {
	n := len(matches)
	keep := make([]bool, n)
	if n == 0 {
		return keep
	}

	// Patience-sorting LIS over oldIndex, tracking predecessors so the
	// actual subsequence (not just its length) can be recovered.
	tails := make([]int, 0, n)
	prev := make([]int, n)
	for i := range prev {
		prev[i] = -1
	}
	for i, m := range matches {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if matches[tails[mid]].oldIndex < m.oldIndex {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			prev[i] = tails[lo-1]
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}

	for k := tails[len(tails)-1]; k != -1; k = prev[k] {
		keep[k] = true
	}
	return keep
}

func updatePatch(id uuid.UUID, cur tree.View, target snapshot.Snapshot) snapshot.Patch {
	delta := snapshot.PropertyDelta{}
	for k, v := range target.Properties {
		old, ok := cur.Properties[k]
		if !ok || !old.Equal(v) {
			delta[k] = v
		}
	}
	for k := range cur.Properties {
		if _, ok := target.Properties[k]; !ok {
			delta[k] = snapshot.Unset{}
		}
	}

	var newName, newClass *string
	if cur.Name != target.Name {
		n := target.Name
		newName = &n
	}
	if cur.ClassName != target.ClassName {
		c := target.ClassName
		newClass = &c
	}
	return snapshot.Updated(id, delta, newName, newClass)
}

type match struct {
	oldView  tree.View
	oldIndex int
	newIndex int
}

// matchChildren pairs old instances with target snapshots, preferring a
// shared contributing path, falling back to identical (name, class).
// Returns matched pairs plus the indices of old children with no match
// (to remove) and target children with no match (to add), both in their
// respective original order. Each match records oldIndex (the matched
// child's position in old, i.e. in cur.Children) alongside newIndex (its
// position in target), so the caller can detect a pure reorder (spec.md
// §4.4 step 5).
func matchChildren(old []tree.View, target []snapshot.Snapshot) (matches []match, removedOld, addedNew []int) {
	usedOld := make([]bool, len(old))
	usedNew := make([]bool, len(target))

	pathIndex := make(map[string]int)
	for i, o := range old {
		for _, p := range o.ContributingPaths {
			pathIndex[p] = i
		}
	}
	for j, t := range target {
		for _, p := range t.ContributingPaths {
			if i, ok := pathIndex[p]; ok && !usedOld[i] && !usedNew[j] {
				matches = append(matches, match{oldView: old[i], oldIndex: i, newIndex: j})
				usedOld[i] = true
				usedNew[j] = true
				break
			}
		}
	}

	for j, t := range target {
		if usedNew[j] {
			continue
		}
		for i, o := range old {
			if usedOld[i] || usedNew[j] {
				continue
			}
			if o.Name == t.Name && o.ClassName == t.ClassName {
				matches = append(matches, match{oldView: o, oldIndex: i, newIndex: j})
				usedOld[i] = true
				usedNew[j] = true
				break
			}
		}
	}

	for i, u := range usedOld {
		if !u {
			removedOld = append(removedOld, i)
		}
	}
	for j, u := range usedNew {
		if !u {
			addedNew = append(addedNew, j)
		}
	}
	return matches, removedOld, addedNew
}
