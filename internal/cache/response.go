// Package cache memoizes inference results so that identical common
// utterances (greetings, FAQs) are answered without paying another
// backend call.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Response is the cached inference payload.
type Response struct {
	Intent       string  `json:"intent"`
	Confidence   float64 `json:"confidence"`
	ResponseText string  `json:"response_text"`
	// Source records which backend produced the entry originally.
	Source string `json:"source"`
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// ResponseCache is a TTL- and size-bounded response store. Expired
// entries are never served; the underlying store drops them on read
// and reaps them periodically in the background, so memory stays
// bounded even under low request volume.
type ResponseCache struct {
	lru    *expirable.LRU[string, Response]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a response cache holding at most maxEntries values,
// each expiring ttl after its last write.
func New(maxEntries int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		lru: expirable.NewLRU[string, Response](maxEntries, nil, ttl),
	}
}

// Key derives the deterministic cache key for a request. Only the
// semantically relevant fields participate: normalized text, persona
// and language. Session id and time deliberately do not, so identical
// utterances from different sessions and times share an entry.
func Key(text, persona, language string) string {
	h := sha256.Sum256([]byte(normalize(text) + "|" + persona + "|" + language))
	return hex.EncodeToString(h[:])
}

// normalize lower-cases, trims, and collapses interior whitespace so
// "Merhaba " and "merhaba" key identically.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Get returns the cached response for key, if present and unexpired.
func (c *ResponseCache) Get(key string) (Response, bool) {
	resp, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return resp, ok
}

// Set stores resp under key, overwriting any existing entry.
func (c *ResponseCache) Set(key string, resp Response) {
	c.lru.Add(key, resp)
}

// Flush drops every entry. Admin surface only.
func (c *ResponseCache) Flush() {
	c.lru.Purge()
}

// Stats returns hit/miss counters and the current entry count.
func (c *ResponseCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
}
