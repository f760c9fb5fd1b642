// Package btree is a B+tree over transactional pages. It maps value digests to
// heap row locations and backs the UNIQUE and PRIMARY KEY columns of a table.
package btree

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/tuannm99/sealdb/internal/heap"
	"github.com/tuannm99/sealdb/internal/storage"
)

// maxDepth bounds descents so a corrupt child pointer cannot loop forever.
const maxDepth = 32

// Tree is one index. Its root page id never changes: when the root splits its
// content moves to a new page and the root becomes the parent. The catalog can
// therefore record the root once, at table creation.
type Tree struct {
	Root uint32

	acc    storage.PageAccessor
	usable int
	log    *slog.Logger
}

// Create allocates an empty root leaf and returns its page id.
func Create(acc storage.PageAccessor, usable int) (uint32, error) {
	id, err := storage.Allocate(acc, usable)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, usable)
	p, err := storage.NewPage(buf, id)
	if err != nil {
		return 0, err
	}
	p.Reset(id, storage.PageTypeIndexLeaf)
	return id, acc.WritePage(id, buf)
}

// Open binds the tree rooted at root to acc. A nil logger discards.
func Open(acc storage.PageAccessor, root uint32, usable int, logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tree{Root: root, acc: acc, usable: usable, log: logger}
}

func (t *Tree) load(id uint32) (*storage.Page, error) {
	buf, err := t.acc.ReadPage(id)
	if err != nil {
		return nil, err
	}
	p, err := storage.WrapPage(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %w", ErrCorruptNode, id, err)
	}
	switch p.Type() {
	case storage.PageTypeIndexLeaf, storage.PageTypeIndexInternal:
		return p, nil
	default:
		return nil, fmt.Errorf("%w: page %d has type %s", ErrCorruptNode, id, p.Type())
	}
}

func (t *Tree) store(p *storage.Page) error { return t.acc.WritePage(p.PageID(), p.Buf) }

func (t *Tree) newPage(typ storage.PageType) (*storage.Page, error) {
	id, err := storage.Allocate(t.acc, t.usable)
	if err != nil {
		return nil, err
	}
	p, err := storage.NewPage(make([]byte, t.usable), id)
	if err != nil {
		return nil, err
	}
	p.Reset(id, typ)
	return p, nil
}

// Insert adds (key, tid). The pair must not be present yet.
func (t *Tree) Insert(key Key, tid heap.TID) error {
	split, err := t.insert(t.Root, Entry{Key: key, TID: tid}, 0)
	if err != nil || split == nil {
		return err
	}
	return t.growRoot(*split)
}

// insert adds e below page id and returns the separator of a new right
// sibling when the page had to split.
func (t *Tree) insert(id uint32, e Entry, depth int) (*internalEntry, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: tree deeper than %d", ErrCorruptNode, maxDepth)
	}
	p, err := t.load(id)
	if err != nil {
		return nil, err
	}
	if p.Type() == storage.PageTypeIndexLeaf {
		return t.insertLeaf(&LeafNode{Page: p}, e)
	}

	node := &InternalNode{Page: p}
	entries, err := node.readEntries()
	if err != nil {
		return nil, err
	}
	i := childIndex(entries, e)
	split, err := t.insert(entries[i].child, e, depth+1)
	if err != nil || split == nil {
		return nil, err
	}
	entries = slices.Insert(entries, i+1, *split)
	if len(entries) <= maxInternalEntries(t.usable) {
		if err := node.rewrite(entries); err != nil {
			return nil, err
		}
		return nil, t.store(p)
	}

	mid := len(entries) / 2
	right, err := t.newPage(storage.PageTypeIndexInternal)
	if err != nil {
		return nil, err
	}
	if err := (&InternalNode{Page: right}).rewrite(entries[mid:]); err != nil {
		return nil, err
	}
	if err := node.rewrite(entries[:mid]); err != nil {
		return nil, err
	}
	if err := t.store(right); err != nil {
		return nil, err
	}
	if err := t.store(p); err != nil {
		return nil, err
	}
	return &internalEntry{sep: entries[mid].sep, child: right.PageID()}, nil
}

func (t *Tree) insertLeaf(leaf *LeafNode, e Entry) (*internalEntry, error) {
	entries, err := leaf.readEntries()
	if err != nil {
		return nil, err
	}
	pos, found := searchEntries(entries, e)
	if found {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, e)
	}
	entries = slices.Insert(entries, pos, e)
	if len(entries) <= maxLeafEntries(t.usable) {
		if err := leaf.rewrite(entries); err != nil {
			return nil, err
		}
		return nil, t.store(leaf.Page)
	}

	mid := len(entries) / 2
	right, err := t.newPage(storage.PageTypeIndexLeaf)
	if err != nil {
		return nil, err
	}
	right.SetNext(leaf.Page.Next())
	if err := (&LeafNode{Page: right}).rewrite(entries[mid:]); err != nil {
		return nil, err
	}
	leaf.Page.SetNext(right.PageID())
	if err := leaf.rewrite(entries[:mid]); err != nil {
		return nil, err
	}
	if err := t.store(right); err != nil {
		return nil, err
	}
	if err := t.store(leaf.Page); err != nil {
		return nil, err
	}
	return &internalEntry{sep: entries[mid], child: right.PageID()}, nil
}

// growRoot moves the split root into a fresh page and turns the root page
// into the parent of that page and split.child.
func (t *Tree) growRoot(split internalEntry) error {
	root, err := t.load(t.Root)
	if err != nil {
		return err
	}
	left, err := t.newPage(root.Type())
	if err != nil {
		return err
	}
	if root.Type() == storage.PageTypeIndexLeaf {
		entries, err := (&LeafNode{Page: root}).readEntries()
		if err != nil {
			return err
		}
		left.SetNext(root.Next())
		if err := (&LeafNode{Page: left}).rewrite(entries); err != nil {
			return err
		}
	} else {
		entries, err := (&InternalNode{Page: root}).readEntries()
		if err != nil {
			return err
		}
		if err := (&InternalNode{Page: left}).rewrite(entries); err != nil {
			return err
		}
	}
	if err := t.store(left); err != nil {
		return err
	}
	parent := &InternalNode{Page: root}
	if err := parent.rewrite([]internalEntry{{child: left.PageID()}, split}); err != nil {
		return err
	}
	t.log.Debug("btree root split", "root", t.Root, "left", left.PageID(), "right", split.child)
	return t.store(root)
}

// findLeaf descends to the leaf e routes to.
func (t *Tree) findLeaf(e Entry) (*LeafNode, error) {
	id := t.Root
	for range maxDepth {
		p, err := t.load(id)
		if err != nil {
			return nil, err
		}
		if p.Type() == storage.PageTypeIndexLeaf {
			return &LeafNode{Page: p}, nil
		}
		entries, err := (&InternalNode{Page: p}).readEntries()
		if err != nil {
			return nil, err
		}
		id = entries[childIndex(entries, e)].child
	}
	return nil, fmt.Errorf("%w: tree deeper than %d", ErrCorruptNode, maxDepth)
}

// Delete removes (key, tid). Nodes are not merged; an emptied leaf stays in
// the chain and is skipped by searches.
func (t *Tree) Delete(key Key, tid heap.TID) error {
	e := Entry{Key: key, TID: tid}
	leaf, err := t.findLeaf(e)
	if err != nil {
		return err
	}
	entries, err := leaf.readEntries()
	if err != nil {
		return err
	}
	pos, found := searchEntries(entries, e)
	if !found {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, e)
	}
	if err := leaf.rewrite(slices.Delete(entries, pos, pos+1)); err != nil {
		return err
	}
	return t.store(leaf.Page)
}

// SearchEqual returns every TID stored under key, in TID order.
func (t *Tree) SearchEqual(key Key) ([]heap.TID, error) {
	target := Entry{Key: key}
	leaf, err := t.findLeaf(target)
	if err != nil {
		return nil, err
	}
	var out []heap.TID
	seen := make(map[uint32]bool)
	for {
		seen[leaf.Page.PageID()] = true
		entries, err := leaf.readEntries()
		if err != nil {
			return nil, err
		}
		pos, _ := searchEntries(entries, target)
		for _, e := range entries[pos:] {
			if e.Key != key {
				return out, nil
			}
			out = append(out, e.TID)
		}
		next := leaf.Page.Next()
		if next == 0 {
			return out, nil
		}
		if seen[next] {
			return nil, fmt.Errorf("%w: leaf chain cycle at page %d", ErrCorruptNode, next)
		}
		p, err := t.load(next)
		if err != nil {
			return nil, err
		}
		if p.Type() != storage.PageTypeIndexLeaf {
			return nil, fmt.Errorf("%w: leaf %d links to %s page %d", ErrCorruptNode, leaf.Page.PageID(), p.Type(), next)
		}
		leaf = &LeafNode{Page: p}
	}
}

// Pages lists every page of the tree, root first.
func (t *Tree) Pages() ([]uint32, error) {
	var out []uint32
	stack := []uint32{t.Root}
	seen := make(map[uint32]bool)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			return nil, fmt.Errorf("%w: page %d reached twice", ErrCorruptNode, id)
		}
		seen[id] = true
		out = append(out, id)

		p, err := t.load(id)
		if err != nil {
			return nil, err
		}
		if p.Type() == storage.PageTypeIndexLeaf {
			continue
		}
		entries, err := (&InternalNode{Page: p}).readEntries()
		if err != nil {
			return nil, err
		}
		for i := len(entries) - 1; i >= 0; i-- {
			stack = append(stack, entries[i].child)
		}
	}
	return out, nil
}
