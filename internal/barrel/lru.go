package barrel

import (
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
)

const nilNode = -1

// handle is a cached open barrel file. Evicted handles stay open until the
// last reader releases them.
type handle struct {
	name    string
	file    *os.File
	refs    int
	evicted bool
}

type lruNode struct {
	h          *handle
	prev, next int
}

// handleCache is a bounded LRU of open barrel files. Recency is an intrusive
// doubly linked list over the nodes slice, addressed by index; freed slots
// are reused.
type handleCache struct {
	mu       sync.Mutex
	capacity int
	nodes    []lruNode
	free     []int
	index    map[string]int
	head     int
	tail     int
	open     func(name string) (*os.File, error)
	onHit    func()
	onMiss   func()
	onEvict  func(name string, err error)
}

func newHandleCache(capacity int, open func(string) (*os.File, error)) *handleCache {
	if capacity < 1 {
		capacity = 1
	}
	return &handleCache{
		capacity: capacity,
		index:    make(map[string]int, capacity),
		head:     nilNode,
		tail:     nilNode,
		open:     open,
		onHit:    func() {},
		onMiss:   func() {},
		onEvict:  func(string, error) {},
	}
}

// acquire returns an open handle for name, opening it on a miss. The caller
// must release it.
func (c *handleCache) acquire(name string) (*handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[name]; ok {
		c.moveToFront(i)
		h := c.nodes[i].h
		h.refs++
		c.onHit()
		return h, nil
	}
	c.onMiss()
	file, err := c.open(name)
	if err != nil {
		return nil, err
	}
	h := &handle{name: name, file: file, refs: 1}
	i := c.alloc(h)
	c.pushFront(i)
	c.index[name] = i
	for len(c.index) > c.capacity {
		c.evict(c.tail)
	}
	return h, nil
}

func (c *handleCache) release(h *handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h.refs--
	if h.evicted && h.refs == 0 {
		c.onEvict(h.name, h.file.Close())
	}
}

// closeAll evicts every handle. Handles still in use close on release.
func (c *handleCache) closeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result *multierror.Error
	for name, i := range c.index {
		h := c.nodes[i].h
		h.evicted = true
		if h.refs == 0 {
			if err := h.file.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		delete(c.index, name)
	}
	c.nodes = c.nodes[:0]
	c.free = c.free[:0]
	c.head, c.tail = nilNode, nilNode
	return result.ErrorOrNil()
}

func (c *handleCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// names returns cached file names from most to least recently used.
func (c *handleCache) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.index))
	for i := c.head; i != nilNode; i = c.nodes[i].next {
		out = append(out, c.nodes[i].h.name)
	}
	return out
}

func (c *handleCache) evict(i int) {
	h := c.nodes[i].h
	c.unlink(i)
	delete(c.index, h.name)
	c.nodes[i] = lruNode{prev: nilNode, next: nilNode}
	c.free = append(c.free, i)
	h.evicted = true
	if h.refs == 0 {
		c.onEvict(h.name, h.file.Close())
	}
}

func (c *handleCache) alloc(h *handle) int {
	node := lruNode{h: h, prev: nilNode, next: nilNode}
	if n := len(c.free); n > 0 {
		i := c.free[n-1]
		c.free = c.free[:n-1]
		c.nodes[i] = node
		return i
	}
	c.nodes = append(c.nodes, node)
	return len(c.nodes) - 1
}

func (c *handleCache) pushFront(i int) {
	c.nodes[i].prev = nilNode
	c.nodes[i].next = c.head
	if c.head != nilNode {
		c.nodes[c.head].prev = i
	}
	c.head = i
	if c.tail == nilNode {
		c.tail = i
	}
}

func (c *handleCache) unlink(i int) {
	prev, next := c.nodes[i].prev, c.nodes[i].next
	if prev != nilNode {
		c.nodes[prev].next = next
	} else {
		c.head = next
	}
	if next != nilNode {
		c.nodes[next].prev = prev
	} else {
		c.tail = prev
	}
	c.nodes[i].prev, c.nodes[i].next = nilNode, nilNode
}

func (c *handleCache) moveToFront(i int) {
	if c.head == i {
		return
	}
	c.unlink(i)
	c.pushFront(i)
}
