package hamt

import (
	"fmt"

	"github.com/meshanina/meshanina/internal/codec"
)

// Appender appends buf to the database file and returns its absolute
// offset. Appenders are expected to grow the file as needed; Flush relies
// on appends happening in the exact order it issues them (children before
// the interior/root nodes that reference them).
type Appender interface {
	Append(buf []byte) (offset int64, err error)
}

// Flushed reports whether anything was written to disk.
type Flushed struct {
	Wrote      bool
	RootOffset uint64
}

// Flush walks root post-order (children before parents, so every offset a
// node references is already known and durable-pending by the time the
// node itself is serialized), appending every pending node and data
// record it finds, and finally appending the root itself tagged
// KindRoot. It returns the new, fully-on-disk Root.
//
// If root has no pending work (already fully on disk, or a never-written
// empty tree), Flush appends nothing and reports Wrote == false — calling
// Flush on a database with zero inserts since creation is a byte-for-byte
// no-op on the file.
func Flush(appender Appender, divider [16]byte, k0, k1 uint64, root Root) (Root, Flushed, error) {
	switch root.kind {
	case childDisk:
		return root, Flushed{Wrote: false, RootOffset: root.diskOffset}, nil

	case childPendingNode:
		if root.node.bitmap == 0 {
			return root, Flushed{Wrote: false}, nil
		}

		offsets := make([]uint64, len(root.node.children))

		for i, c := range root.node.children {
			flushedChild, err := flushChild(appender, divider, k0, k1, c)
			if err != nil {
				return Root{}, Flushed{}, err
			}

			offsets[i] = flushedChild.diskOffset
		}

		content := codec.EncodeNodeContent(codec.NodeContent{Bitmap: root.node.bitmap, Offsets: offsets})
		buf := codec.Encode(divider, k0, k1, codec.KindRoot, content)

		off, err := appender.Append(buf)
		if err != nil {
			return Root{}, Flushed{}, fmt.Errorf("hamt: appending root: %w", err)
		}

		return Root{kind: childDisk, diskOffset: uint64(off)}, Flushed{Wrote: true, RootOffset: uint64(off)}, nil

	default:
		return Root{}, Flushed{}, fmt.Errorf("hamt: unexpected root kind %d", root.kind)
	}
}

// flushChild returns c's durable (childDisk) form, recursively flushing
// any pending node or data beneath it first.
func flushChild(appender Appender, divider [16]byte, k0, k1 uint64, c child) (child, error) {
	switch c.kind {
	case childDisk:
		return c, nil

	case childPendingData:
		content := codec.EncodeDataContent(c.dataKey, c.dataValue)
		buf := codec.Encode(divider, k0, k1, codec.KindData, content)

		off, err := appender.Append(buf)
		if err != nil {
			return child{}, fmt.Errorf("hamt: appending data record: %w", err)
		}

		return child{kind: childDisk, diskOffset: uint64(off)}, nil

	case childPendingNode:
		offsets := make([]uint64, len(c.node.children))

		for i, cc := range c.node.children {
			flushedChild, err := flushChild(appender, divider, k0, k1, cc)
			if err != nil {
				return child{}, err
			}

			offsets[i] = flushedChild.diskOffset
		}

		content := codec.EncodeNodeContent(codec.NodeContent{Bitmap: c.node.bitmap, Offsets: offsets})
		buf := codec.Encode(divider, k0, k1, codec.KindInterior, content)

		off, err := appender.Append(buf)
		if err != nil {
			return child{}, fmt.Errorf("hamt: appending interior node: %w", err)
		}

		return child{kind: childDisk, diskOffset: uint64(off)}, nil

	default:
		return child{}, fmt.Errorf("hamt: unknown child kind %d", c.kind)
	}
}
