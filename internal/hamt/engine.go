package hamt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/meshanina/meshanina/internal/codec"
)

// ErrKeyCollision is returned by Insert when key is already bound to a
// different value on disk or pending. Meshanina keys are expected to be a
// strong hash of their value; re-inserting the same key with the same
// value is always a silent no-op, never this error.
var ErrKeyCollision = errors.New("hamt: key bound to a different value")

// Source provides read access to the durable portion of the database
// file: the byte range from offset to the current end of file.
type Source interface {
	ReadFrom(offset int64) ([]byte, error)
}

// Reader decodes on-disk records for a specific database (its magic
// divider and derived checksum key).
type Reader struct {
	Source  Source
	Divider [16]byte
	K0, K1  uint64
}

func (r Reader) decodeAt(offset uint64) (codec.Record, error) {
	buf, err := r.Source.ReadFrom(int64(offset))
	if err != nil {
		return codec.Record{}, fmt.Errorf("hamt: reading offset %d: %w", offset, err)
	}

	rec, _, err := codec.Decode(r.Divider, r.K0, r.K1, buf)
	if err != nil {
		return codec.Record{}, fmt.Errorf("hamt: decoding offset %d: %w", offset, err)
	}

	return rec, nil
}

func (r Reader) readNode(offset uint64) (codec.NodeContent, error) {
	rec, err := r.decodeAt(offset)
	if err != nil {
		return codec.NodeContent{}, err
	}

	if rec.Kind != codec.KindInterior && rec.Kind != codec.KindRoot {
		return codec.NodeContent{}, fmt.Errorf("hamt: offset %d is not a node record (kind %s)", offset, rec.Kind)
	}

	return codec.DecodeNodeContent(rec.Content)
}

func (r Reader) readData(offset uint64) (key [KeySize]byte, value []byte, err error) {
	rec, err := r.decodeAt(offset)
	if err != nil {
		return key, nil, err
	}

	if rec.Kind != codec.KindData {
		return key, nil, fmt.Errorf("hamt: offset %d is not a data record", offset)
	}

	return codec.DecodeDataContent(rec.Content)
}

// Root is the current root of the index: either a fully-durable on-disk
// node (offset valid, durable after the database's last flush) or a
// pending, not-yet-flushed node held entirely in memory.
type Root struct {
	kind       childKind
	diskOffset uint64
	node       *Node
}

// EmptyRoot is the root of a freshly created, empty database.
func EmptyRoot() Root {
	return Root{kind: childPendingNode, node: &Node{}}
}

// DiskRoot wraps an already-flushed root record's offset.
func DiskRoot(offset uint64) Root {
	return Root{kind: childDisk, diskOffset: offset}
}

func (root Root) asChild() child {
	return child{kind: root.kind, diskOffset: root.diskOffset, node: root.node}
}

func rootFromChild(c child) Root {
	return Root{kind: c.kind, diskOffset: c.diskOffset, node: c.node}
}

// Lookup searches the index rooted at root for key.
func Lookup(r Reader, root Root, key [KeySize]byte) (value []byte, found bool, err error) {
	return lookupChild(r, root.asChild(), key, 0)
}

func lookupChild(r Reader, c child, key [KeySize]byte, level int) ([]byte, bool, error) {
	switch c.kind {
	case childPendingData:
		if bytes.Equal(c.dataKey[:], key[:]) {
			return c.dataValue, true, nil
		}

		return nil, false, nil

	case childPendingNode:
		slot := slotAt(key, level)

		idx, present := c.node.slotIndex(slot)
		if !present {
			return nil, false, nil
		}

		// An on-disk child may be a Data or an Interior record.
		if next := c.node.children[idx]; next.kind == childDisk {
			return lookupDiskOrData(r, next.diskOffset, key, level+1)
		}

		return lookupChild(r, c.node.children[idx], key, level+1)

	case childDisk:
		nc, err := r.readNode(c.diskOffset)
		if err != nil {
			return nil, false, err
		}

		slot := slotAt(key, level)

		idx, present := codecSlotIndex(nc.Bitmap, slot)
		if !present {
			return nil, false, nil
		}

		childOffset := nc.Offsets[idx]

		return lookupDiskOrData(r, childOffset, key, level+1)

	default:
		return nil, false, fmt.Errorf("hamt: unknown child kind %d", c.kind)
	}
}

// lookupDiskOrData resolves a raw on-disk child offset, which may point at
// either a Data record (leaf) or an Interior record (another node level).
func lookupDiskOrData(r Reader, offset uint64, key [KeySize]byte, level int) ([]byte, bool, error) {
	rec, err := r.decodeAt(offset)
	if err != nil {
		return nil, false, err
	}

	switch rec.Kind {
	case codec.KindData:
		gotKey, value, err := codec.DecodeDataContent(rec.Content)
		if err != nil {
			return nil, false, err
		}

		if bytes.Equal(gotKey[:], key[:]) {
			return value, true, nil
		}

		return nil, false, nil

	case codec.KindInterior, codec.KindRoot:
		nc, err := codec.DecodeNodeContent(rec.Content)
		if err != nil {
			return nil, false, err
		}

		slot := slotAt(key, level)

		idx, present := codecSlotIndex(nc.Bitmap, slot)
		if !present {
			return nil, false, nil
		}

		return lookupDiskOrData(r, nc.Offsets[idx], key, level+1)

	default:
		return nil, false, fmt.Errorf("hamt: unexpected record kind %s at offset %d", rec.Kind, offset)
	}
}

func codecSlotIndex(bitmap uint64, slot uint) (idx int, present bool) {
	return codec.SlotIndex(bitmap, slot)
}

// Insert returns the Root resulting from binding key to value. If key is
// already bound to an identical value (on disk or pending), Insert returns
// the unchanged root. If key is already bound to a different value,
// Insert returns ErrKeyCollision.
func Insert(r Reader, root Root, key [KeySize]byte, value []byte) (Root, error) {
	newChild, _, err := insertChild(r, root.asChild(), key, value, 0)
	if err != nil {
		return Root{}, err
	}

	return rootFromChild(newChild), nil
}

// insertChild returns the replacement for c (after binding key to value)
// and whether anything actually changed (false on an idempotent no-op, in
// which case each ancestor returns itself instead of being reallocated).
func insertChild(r Reader, c child, key [KeySize]byte, value []byte, level int) (child, bool, error) {
	if level > maxLevel {
		return child{}, false, fmt.Errorf("hamt: index exhausted at level %d (256-bit key collision)", level)
	}

	switch c.kind {
	case childPendingData:
		if bytes.Equal(c.dataKey[:], key[:]) {
			if bytes.Equal(c.dataValue, value) {
				return c, false, nil
			}

			return child{}, false, ErrKeyCollision
		}

		return splitPendingData(c, key, value, level)

	case childPendingNode:
		slot := slotAt(key, level)

		idx, present := c.node.slotIndex(slot)
		if !present {
			newLeaf := child{kind: childPendingData, dataKey: key, dataValue: value}

			return child{kind: childPendingNode, node: c.node.withChild(slot, newLeaf)}, true, nil
		}

		var (
			updated child
			changed bool
			err     error
		)

		// An on-disk child may be a Data or an Interior record.
		if next := c.node.children[idx]; next.kind == childDisk {
			updated, changed, err = insertAtDiskOffset(r, next.diskOffset, key, value, level+1)
		} else {
			updated, changed, err = insertChild(r, next, key, value, level+1)
		}

		if err != nil {
			return child{}, false, err
		}

		if !changed {
			return c, false, nil
		}

		return child{kind: childPendingNode, node: c.node.withChild(slot, updated)}, true, nil

	case childDisk:
		nc, err := r.readNode(c.diskOffset)
		if err != nil {
			return child{}, false, err
		}

		slot := slotAt(key, level)

		idx, present := codecSlotIndex(nc.Bitmap, slot)

		if !present {
			newLeaf := child{kind: childPendingData, dataKey: key, dataValue: value}
			node := diskNodeToPendingWithInsert(nc, slot, newLeaf, -1)

			return child{kind: childPendingNode, node: node}, true, nil
		}

		existingOffset := nc.Offsets[idx]

		updatedExisting, changed, err := insertAtDiskOffset(r, existingOffset, key, value, level+1)
		if err != nil {
			return child{}, false, err
		}

		if !changed {
			return c, false, nil
		}

		node := diskNodeToPendingWithInsert(nc, slot, updatedExisting, idx)

		return child{kind: childPendingNode, node: node}, true, nil

	default:
		return child{}, false, fmt.Errorf("hamt: unknown child kind %d", c.kind)
	}
}

// insertAtDiskOffset resolves a raw on-disk offset (Data or Interior) and
// returns its replacement child after binding key to value.
func insertAtDiskOffset(r Reader, offset uint64, key [KeySize]byte, value []byte, level int) (child, bool, error) {
	rec, err := r.decodeAt(offset)
	if err != nil {
		return child{}, false, err
	}

	switch rec.Kind {
	case codec.KindData:
		gotKey, gotValue, err := codec.DecodeDataContent(rec.Content)
		if err != nil {
			return child{}, false, err
		}

		if bytes.Equal(gotKey[:], key[:]) {
			if bytes.Equal(gotValue, value) {
				return child{kind: childDisk, diskOffset: offset}, false, nil
			}

			return child{}, false, ErrKeyCollision
		}

		existing := child{kind: childPendingData, dataKey: gotKey, dataValue: gotValue}

		return splitTwoLeaves(existing, child{kind: childPendingData, dataKey: key, dataValue: value}, level)

	case codec.KindInterior, codec.KindRoot:
		nc, err := codec.DecodeNodeContent(rec.Content)
		if err != nil {
			return child{}, false, err
		}

		slot := slotAt(key, level)

		idx, present := codecSlotIndex(nc.Bitmap, slot)

		if !present {
			newLeaf := child{kind: childPendingData, dataKey: key, dataValue: value}
			node := diskNodeToPendingWithInsert(nc, slot, newLeaf, -1)

			return child{kind: childPendingNode, node: node}, true, nil
		}

		updated, changed, err := insertAtDiskOffset(r, nc.Offsets[idx], key, value, level+1)
		if err != nil {
			return child{}, false, err
		}

		if !changed {
			return child{kind: childDisk, diskOffset: offset}, false, nil
		}

		node := diskNodeToPendingWithInsert(nc, slot, updated, idx)

		return child{kind: childPendingNode, node: node}, true, nil

	default:
		return child{}, false, fmt.Errorf("hamt: unexpected record kind %s at offset %d", rec.Kind, offset)
	}
}

// diskNodeToPendingWithInsert materializes a disk-read node's children as
// childDisk refs (cheap: no recursive I/O, siblings stay lazy) and applies
// a single slot update — either inserting a brand new slot (replaceIdx <
// 0) or replacing the child at replaceIdx with newChild.
func diskNodeToPendingWithInsert(nc codec.NodeContent, slot uint, newChild child, replaceIdx int) *Node {
	children := make([]child, len(nc.Offsets))
	for i, off := range nc.Offsets {
		children[i] = child{kind: childDisk, diskOffset: off}
	}

	n := &Node{bitmap: nc.Bitmap, children: children}

	if replaceIdx >= 0 {
		children[replaceIdx] = newChild

		return &Node{bitmap: nc.Bitmap, children: children}
	}

	return n.withChild(slot, newChild)
}

// splitPendingData handles inserting key/value into a slot currently
// occupied by a different pending data leaf: descend both leaves together
// until their slot paths diverge, building interior nodes along the way.
func splitPendingData(existing child, key [KeySize]byte, value []byte, level int) (child, bool, error) {
	return splitTwoLeaves(existing, child{kind: childPendingData, dataKey: key, dataValue: value}, level)
}

func splitTwoLeaves(a, b child, level int) (child, bool, error) {
	if level > maxLevel {
		return child{}, false, fmt.Errorf("hamt: index exhausted splitting two leaves at level %d", level)
	}

	slotA := slotAt(a.dataKey, level)
	slotB := slotAt(b.dataKey, level)

	if slotA == slotB {
		inner, _, err := splitTwoLeaves(a, b, level+1)
		if err != nil {
			return child{}, false, err
		}

		node := (&Node{}).withChild(slotA, inner)

		return child{kind: childPendingNode, node: node}, true, nil
	}

	node := (&Node{}).withChild(slotA, a)
	node = node.withChild(slotB, b)

	return child{kind: childPendingNode, node: node}, true, nil
}
