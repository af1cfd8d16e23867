package oracle

import "oocoresim/internal/mop"

// depNode is one entry in a register's producer chain, mirroring
// core_oracle_t::map_node_t.
type depNode struct {
	uop  *mop.Uop
	prev *depNode
	next *depNode
}

// regChain tracks every in-flight producer of one architected register: a
// doubly linked list from the oldest uncommitted producer (head) to the
// youngest in-flight producer (tail).
type regChain struct {
	head *depNode
	tail *depNode
}

// depMap is the rename table: for each architected register name, the
// oldest-to-youngest chain of in-flight producers, grounded on
// core_oracle_t::dep_map in zesto-oracle.h.
type depMap struct {
	chains map[int16]*regChain
	nodes  map[*mop.Uop][]*depNode // producer uop -> its nodes, for undo/commit lookup
}

func newDepMap() *depMap {
	return &depMap{
		chains: make(map[int16]*regChain),
		nodes:  make(map[*mop.Uop][]*depNode),
	}
}

func (d *depMap) chainFor(reg int16) *regChain {
	c, ok := d.chains[reg]
	if !ok {
		c = &regChain{}
		d.chains[reg] = c
	}
	return c
}

// Install appends u as the new tail producer for reg, the effect of
// core_oracle_t::install_mapping for one output register.
func (d *depMap) Install(reg int16, u *mop.Uop) {
	c := d.chainFor(reg)
	n := &depNode{uop: u}
	if c.tail != nil {
		c.tail.next = n
		n.prev = c.tail
	} else {
		c.head = n
	}
	c.tail = n
	d.nodes[u] = append(d.nodes[u], n)
}

// Tail returns the current tail (youngest in-flight) producer of reg, or
// nil if no producer is in flight — consumers link their idep to this.
func (d *depMap) Tail(reg int16) *mop.Uop {
	c, ok := d.chains[reg]
	if !ok || c.tail == nil {
		return nil
	}
	return c.tail.uop
}

// Commit removes u's nodes from the head of each chain they occupy,
// mirroring core_oracle_t::commit_mapping. It is only valid to call this
// once u is actually the head (oldest) producer for each such register.
func (d *depMap) Commit(reg int16, u *mop.Uop) {
	c, ok := d.chains[reg]
	if !ok || c.head == nil || c.head.uop != u {
		return
	}
	n := c.head
	c.head = n.next
	if c.head != nil {
		c.head.prev = nil
	} else {
		c.tail = nil
	}
	d.removeNode(u, n)
}

// Undo removes u's nodes from the tail of each chain they occupy, mirroring
// core_oracle_t::undo_mapping, used when a Mop is squashed before it
// retires.
func (d *depMap) Undo(reg int16, u *mop.Uop) {
	c, ok := d.chains[reg]
	if !ok || c.tail == nil || c.tail.uop != u {
		return
	}
	n := c.tail
	c.tail = n.prev
	if c.tail != nil {
		c.tail.next = nil
	} else {
		c.head = nil
	}
	d.removeNode(u, n)
}

func (d *depMap) removeNode(u *mop.Uop, n *depNode) {
	list := d.nodes[u]
	for i, cand := range list {
		if cand == n {
			d.nodes[u] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(d.nodes[u]) == 0 {
		delete(d.nodes, u)
	}
}
