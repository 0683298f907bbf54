package chunk

// lruNode is a node in a doubly-linked LRU list. It keeps its key for O(1)
// deletion from the owning map.
type lruNode struct {
	key  GridKey
	grid *DensityGrid
	prev *lruNode
	next *lruNode
}

// lruList is a doubly-linked list ordered by recency. The head is the most
// recently used node. The list is not thread-safe.
type lruList struct {
	head *lruNode
	tail *lruNode
	len  int
}

// PushFront inserts a new node at the front.
func (l *lruList) PushFront(key GridKey, grid *DensityGrid) *lruNode {
	node := &lruNode{key: key, grid: grid}
	l.pushFront(node)
	return node
}

// MoveToFront marks node as most recently used.
func (l *lruList) MoveToFront(node *lruNode) {
	if node == l.head {
		return
	}
	l.unlink(node)
	l.pushFront(node)
}

// Remove unlinks node.
func (l *lruList) Remove(node *lruNode) {
	l.unlink(node)
}

// Oldest returns the least recently used node, or nil.
func (l *lruList) Oldest() *lruNode {
	return l.tail
}

func (l *lruList) pushFront(node *lruNode) {
	node.prev = nil
	node.next = l.head
	if l.head != nil {
		l.head.prev = node
	}
	l.head = node
	if l.tail == nil {
		l.tail = node
	}
	l.len++
}

func (l *lruList) unlink(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	l.len--
}
