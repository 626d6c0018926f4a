package extractor

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

const pathCacheSize = 512

type pathCacheEntry struct {
	val      bsoncore.Value
	rest     string
	hitArray bool
}

// PathCache memoizes nested-path extractions within a single document.
// Multi-index insertion extracts the same paths once per index; the cache
// collapses the repeats. The whole cache is invalidated whenever the
// document changes, detected by the identity of its first byte.
//
// A PathCache belongs to one worker. It must not be shared across
// goroutines.
type PathCache struct {
	doc   bsoncore.Document
	cache *lru.Cache[string, pathCacheEntry]
}

func NewPathCache() *PathCache {
	cache, _ := lru.New[string, pathCacheEntry](pathCacheSize)
	return &PathCache{cache: cache}
}

func (c *PathCache) sameDoc(doc bsoncore.Document) bool {
	if len(c.doc) == 0 || len(doc) == 0 {
		return false
	}
	return &c.doc[0] == &doc[0]
}

// Extract behaves like ExtractElementAtPathOrArrayAlongPath. Top-level
// paths bypass the cache; they are already a single field lookup.
func (c *PathCache) Extract(doc bsoncore.Document, path string) (bsoncore.Value, string, bool) {
	nested := false
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			nested = true
			break
		}
	}
	if !nested {
		v, _ := lookupField(doc, path)
		return v, "", false
	}

	if !c.sameDoc(doc) {
		c.doc = doc
		c.cache.Purge()
	}

	if entry, ok := c.cache.Get(path); ok {
		return entry.val, entry.rest, entry.hitArray
	}

	val, rest, hitArray := ExtractElementAtPathOrArrayAlongPath(doc, path)
	c.cache.Add(path, pathCacheEntry{val: val, rest: rest, hitArray: hitArray})
	return val, rest, hitArray
}
