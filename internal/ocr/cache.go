package ocr

import (
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// cacheKey identifies one version of an image file.
type cacheKey struct {
	path    string
	modTime int64
	size    int64
}

func keyForFile(path string) (cacheKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cacheKey{}, err
	}
	return cacheKey{path: path, modTime: info.ModTime().UnixNano(), size: info.Size()}, nil
}

// resultCache holds recent recognition results. Once full it evicts the
// entry inserted first; reads do not refresh an entry's position.
// Not safe for concurrent use; Worker guards it.
type resultCache struct {
	capacity int
	entries  *orderedmap.OrderedMap[cacheKey, string]
}

func newResultCache(capacity int) *resultCache {
	return &resultCache{
		capacity: capacity,
		entries:  orderedmap.New[cacheKey, string](),
	}
}

func (c *resultCache) get(k cacheKey) (string, bool) {
	if c.capacity <= 0 {
		return "", false
	}
	return c.entries.Get(k)
}

func (c *resultCache) put(k cacheKey, text string) {
	if c.capacity <= 0 {
		return
	}
	if _, present := c.entries.Set(k, text); present {
		return
	}
	for c.entries.Len() > c.capacity {
		oldest := c.entries.Oldest()
		c.entries.Delete(oldest.Key)
	}
}

func (c *resultCache) size() int {
	return c.entries.Len()
}

func (c *resultCache) clear() {
	c.entries = orderedmap.New[cacheKey, string]()
}
