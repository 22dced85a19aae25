package vft

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a depth-first textual rendering of the subtree rooted at
// it to w: one line per node, indented one space per level, directories
// rendered with a trailing "/" before the " -> realPath" suffix. The
// root's own line omits the trailing slash since its display name is
// already "/".
func (it *Item) Dump(w io.Writer, level int) {
	it.mu.RLock()
	name := it.name
	kind := it.kind
	realPath := it.realPath
	keys := append([]string(nil), it.childOrder...)
	it.mu.RUnlock()

	label := name
	if kind == KindDir && name != "/" {
		label += "/"
	}
	fmt.Fprintf(w, "%s%s -> %s\n", strings.Repeat(" ", level), label, realPath)

	for _, key := range keys {
		it.mu.RLock()
		child, ok := it.children[key]
		it.mu.RUnlock()
		if !ok {
			continue
		}
		child.Dump(w, level+1)
	}
}
