// Package integrity implements an offline structural checker: a
// read-only walk that validates key ordering within each subtree's
// separator bounds and that no page is owned by both a tree and the
// garbage chain (or by two trees), reporting faults without attempting
// repair. Right-sibling links and the unallocated tail are not checked.
package integrity

import (
	"bytes"
	"fmt"

	"ledgerkv/pkg/page"
	"ledgerkv/pkg/store"
)

// Severity classifies a Fault so a caller can decide whether to treat
// the volume as usable.
type Severity int

const (
	Warning Severity = iota
	Error
)

// Fault is one structural problem found during a Check.
type Fault struct {
	Severity Severity
	Addr     page.Addr
	Message  string
}

// Report is the outcome of one Check call.
type Report struct {
	PagesVisited int
	Faults       []Fault
}

func (r *Report) add(sev Severity, addr page.Addr, format string, args ...any) {
	r.Faults = append(r.Faults, Fault{Severity: sev, Addr: addr, Message: fmt.Sprintf(format, args...)})
}

// Checker walks the trees it is given plus the volume's garbage chain,
// verifying that pages hold strictly increasing keys that stay within
// the bounds set by their parent's separators, and that no page
// address is reachable from more than one of {the walked trees,
// garbage chain}. It does not follow right-sibling links.
type Checker struct {
	s *store.Structure
}

func New(s *store.Structure) *Checker {
	return &Checker{s: s}
}

// Check walks the named trees plus the garbage chain, and returns
// every fault found. A nil or empty names list walks no tree, only the
// garbage chain.
func (c *Checker) Check(names []string) (*Report, error) {
	r := &Report{}
	visited := map[page.Addr]string{} // addr -> owner, to catch double-ownership

	for _, name := range names {
		root, ok := c.s.Lookup(name)
		if !ok {
			r.add(Error, 0, "tree %q not found in directory", name)
			continue
		}
		if err := c.walkTree(r, visited, name, root); err != nil {
			return r, err
		}
	}
	if err := c.walkGarbage(r, visited); err != nil {
		return r, err
	}
	return r, nil
}

func (c *Checker) walkTree(r *Report, visited map[page.Addr]string, treeName string, root page.Addr) error {
	return c.walkLevel(r, visited, treeName, root, nil, nil)
}

// walkLevel recurses down one subtree. lowBound/highBound (nil =
// unbounded) are the key range this subtree's keys must stay within,
// inherited from the parent separator that pointed here.
func (c *Checker) walkLevel(r *Report, visited map[page.Addr]string, owner string, addr page.Addr, lowBound, highBound []byte) error {
	if prev, ok := visited[addr]; ok {
		r.add(Error, addr, "page reachable from both %q and %q", prev, owner)
		return nil
	}
	visited[addr] = owner

	buf, err := c.s.Pool.Get(c.s.VolumeID, addr, false)
	if err != nil {
		return err
	}
	defer c.s.Pool.Release(buf, false, false)
	r.PagesVisited++
	p := buf.Page()

	switch p.Type() {
	case page.TypeData:
		c.checkLeafOrdering(r, addr, p, lowBound, highBound)
	case page.TypeIndex:
		n := p.NKeys()
		var prevKey []byte
		for i := 0; i < n; i++ {
			key := p.FullKeyAt(i)
			if i > 0 && bytes.Compare(key, prevKey) <= 0 {
				r.add(Error, addr, "index separator %d out of order", i)
			}
			prevKey = key
			lo := key
			if i == 0 {
				lo = lowBound
			}
			hi := highBound
			if i+1 < n {
				hi = p.FullKeyAt(i + 1)
			}
			if err := c.walkLevel(r, visited, owner, p.PtrAt(i), lo, hi); err != nil {
				return err
			}
		}
	default:
		r.add(Warning, addr, "unexpected page type %s reachable from tree %q", p.Type(), owner)
	}
	return nil
}

func (c *Checker) checkLeafOrdering(r *Report, addr page.Addr, p page.Page, lowBound, highBound []byte) {
	n := p.NKeys()
	var prevKey []byte
	for i := 0; i < n; i++ {
		key := p.FullKeyAt(i)
		if i > 0 && bytes.Compare(key, prevKey) <= 0 {
			r.add(Error, addr, "leaf key %d out of order", i)
		}
		if lowBound != nil && bytes.Compare(key, lowBound) < 0 {
			r.add(Error, addr, "leaf key %d below subtree lower bound", i)
		}
		if highBound != nil && bytes.Compare(key, highBound) >= 0 {
			r.add(Error, addr, "leaf key %d at or above subtree upper bound", i)
		}
		prevKey = key
	}
}

func (c *Checker) walkGarbage(r *Report, visited map[page.Addr]string) error {
	root := c.s.Vol.Header.GarbageRoot
	addr := page.Addr(root)
	hops := 0
	for addr != 0 {
		if hops > maxGarbageWalk {
			r.add(Error, addr, "garbage chain exceeds %d nodes, possible cycle", maxGarbageWalk)
			return nil
		}
		if prev, ok := visited[addr]; ok {
			r.add(Error, addr, "garbage node reachable from both the chain and %q", prev)
			return nil
		}
		visited[addr] = "_garbage"
		buf, err := c.s.Pool.Get(c.s.VolumeID, addr, false)
		if err != nil {
			return err
		}
		r.PagesVisited++
		next := buf.Page().RightSibling()
		c.s.Pool.Release(buf, false, false)
		addr = next
		hops++
	}
	return nil
}

const maxGarbageWalk = 10_000_000
