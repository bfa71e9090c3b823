package sandbox

import (
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// treeCache holds the listTree/readFile cache with a monotone epoch TTL:
// every mutation (checkout, reset, patch apply, explicit Tick) bumps the
// epoch, invalidating anything cached under a stale epoch (spec §4.2).
type treeCache struct {
	epochCounter int64 // atomic

	mu        sync.Mutex
	treeEpoch int64
	tree      []string
	fileEpoch int64
	files     map[string]string
}

func newTreeCache() *treeCache {
	return &treeCache{files: make(map[string]string)}
}

func (c *treeCache) epoch() int64 {
	return atomic.LoadInt64(&c.epochCounter)
}

func (c *treeCache) invalidate() {
	atomic.AddInt64(&c.epochCounter, 1)
}

func (c *treeCache) getTree(epoch int64) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tree == nil || c.treeEpoch != epoch {
		return nil, false
	}
	out := make([]string, len(c.tree))
	copy(out, c.tree)
	return out, true
}

func (c *treeCache) putTree(epoch int64, tree []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.treeEpoch = epoch
	c.tree = tree
}

func (c *treeCache) getFile(epoch int64, path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fileEpoch != epoch {
		return "", false
	}
	content, ok := c.files[path]
	return content, ok
}

func (c *treeCache) putFile(epoch int64, path, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fileEpoch != epoch {
		c.files = make(map[string]string)
		c.fileEpoch = epoch
	}
	c.files[path] = content
}

// cacheDump is the msgpack-serializable snapshot of the cache returned by
// DumpCache. Nothing in the controller calls DumpCache, so no evidence
// pack contains this snapshot.
type cacheDump struct {
	TreeEpoch int64             `msgpack:"tree_epoch"`
	Tree      []string          `msgpack:"tree"`
	FileEpoch int64             `msgpack:"file_epoch"`
	Files     map[string]string `msgpack:"files"`
}

// Dump serializes the current cache contents to msgpack bytes.
func (c *treeCache) Dump() ([]byte, error) {
	c.mu.Lock()
	dump := cacheDump{
		TreeEpoch: c.treeEpoch,
		Tree:      append([]string(nil), c.tree...),
		FileEpoch: c.fileEpoch,
		Files:     make(map[string]string, len(c.files)),
	}
	for k, v := range c.files {
		dump.Files[k] = v
	}
	c.mu.Unlock()
	return msgpack.Marshal(dump)
}

// DumpCache exposes the sandbox's cache snapshot for EvidencePack.
func (s *Sandbox) DumpCache() ([]byte, error) {
	return s.cache.Dump()
}
