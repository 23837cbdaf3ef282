package training

import (
	"container/list"
	"fmt"
	"image"
	"sync"
)

// ImageCache keeps decoded images in memory so the random per-epoch
// augmentations do not pay the JPEG decode cost on every pass. Eviction
// is least-recently-used.
type ImageCache struct {
	mu      sync.Mutex
	cache   map[string]image.Image
	lru     *list.List
	lruMap  map[string]*list.Element
	maxSize int

	hits   int64
	misses int64
}

// NewImageCache creates a cache holding at most maxSize decoded images.
func NewImageCache(maxSize int) *ImageCache {
	return &ImageCache{
		cache:   make(map[string]image.Image),
		lru:     list.New(),
		lruMap:  make(map[string]*list.Element),
		maxSize: maxSize,
	}
}

// Get retrieves a decoded image by path.
func (c *ImageCache) Get(path string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if img, ok := c.cache[path]; ok {
		if elem, ok := c.lruMap[path]; ok {
			c.lru.MoveToFront(elem)
		}
		c.hits++
		return img, true
	}
	c.misses++
	return nil, false
}

// Put adds a decoded image, evicting the oldest entries past capacity.
func (c *ImageCache) Put(path string, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cache[path]; ok {
		if elem, ok := c.lruMap[path]; ok {
			c.lru.MoveToFront(elem)
		}
		return
	}

	elem := c.lru.PushFront(path)
	c.lruMap[path] = elem
	c.cache[path] = img

	for len(c.cache) > c.maxSize && c.lru.Len() > 0 {
		oldest := c.lru.Back()
		key := oldest.Value.(string)
		c.lru.Remove(oldest)
		delete(c.lruMap, key)
		delete(c.cache, key)
	}
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Stats returns a printable hit/miss summary.
func (c *ImageCache) Stats() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return "cache: empty"
	}
	return fmt.Sprintf("cache: %d items, %.1f%% hit rate (%d hits, %d misses)",
		len(c.cache), float64(c.hits)/float64(total)*100, c.hits, c.misses)
}
