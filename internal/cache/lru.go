package cache

import "container/list"

type lruEntry[V any] struct {
	key   Key
	value V
}

// lru is a plain LRU list. Callers hold the shard lock.
type lru[V any] struct {
	items map[Key]*list.Element
	order *list.List
	size  int
}

func newLRU[V any](size int) *lru[V] {
	return &lru[V]{
		items: make(map[Key]*list.Element, size),
		order: list.New(),
		size:  size,
	}
}

func (c *lru[V]) add(key Key, value V) {
	if elem, ok := c.items[key]; ok {
		elem.Value = lruEntry[V]{key: key, value: value}
		c.order.MoveToBack(elem)
		return
	}
	elem := c.order.PushBack(lruEntry[V]{key: key, value: value})
	c.items[key] = elem
	if len(c.items) > c.size {
		front := c.order.Front()
		c.order.Remove(front)
		delete(c.items, front.Value.(lruEntry[V]).key)
	}
}

func (c *lru[V]) get(key Key) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToBack(elem)
	return elem.Value.(lruEntry[V]).value, true
}

func (c *lru[V]) len() int {
	return len(c.items)
}

func (c *lru[V]) clear() {
	c.items = make(map[Key]*list.Element, c.size)
	c.order.Init()
}
