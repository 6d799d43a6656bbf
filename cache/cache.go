// Package cache stores compiled CVM method bodies and unrolled native
// fragments, and maps program counters back to the methods that own them.
package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/colorfulnotion/cvm/config"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/exp/slices"
)

// pcBase is the program counter of the first bytecode page. Zero is never a
// valid pc.
const pcBase = 0x10000

type page struct {
	base uint64
	data []byte
	used int
	live int // methods resident in the page
}

// EndResult is the outcome of EndMethod.
type EndResult int

const (
	EndOK      EndResult = iota
	EndRestart           // overflowed a shared page; generate again in a fresh page
	EndTooBig            // does not fit in an empty page
	EndFull              // no page can be allocated
)

func (r EndResult) String() string {
	switch r {
	case EndOK:
		return "ok"
	case EndRestart:
		return "restart"
	case EndTooBig:
		return "too big"
	case EndFull:
		return "full"
	}
	return fmt.Sprintf("EndResult(%d)", int(r))
}

type Stats struct {
	Methods    int
	Pages      int
	BytesUsed  int
	NativeUsed int
	Evictions  int
	Restarts   int
	Flushes    int
}

// Cache is safe for concurrent use. Method generation is serialised: the
// allocation lock is held from StartMethod to EndMethod.
type Cache struct {
	cfg config.CacheConfig

	allocMu sync.Mutex
	mu      sync.RWMutex

	pages      []*page
	current    *page
	allocated  int // bytes of live pages
	nextBase   uint64
	forceFresh bool
	replacing  bool

	methods *lru.Cache[any, *Method]
	regions []Region // sorted by Start

	native  *ExecMemory
	onEvict func(owner any)
	evicted []any
	stats   Stats
}

func New(cfg config.CacheConfig) (*Cache, error) {
	native, err := NewExecMemory(cfg.NativeBytes)
	if err != nil {
		return nil, err
	}
	c := &Cache{cfg: cfg, nextBase: pcBase, native: native}
	c.methods, err = lru.NewWithEvict[any, *Method](cfg.MaxMethods, c.removeLocked)
	if err != nil {
		return nil, fmt.Errorf("method lru: %w", err)
	}
	return c, nil
}

// OnEvict registers a callback invoked, without cache locks held, for every
// method that leaves the cache.
func (c *Cache) OnEvict(fn func(owner any)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Native returns the region unrolled fragments are allocated from.
func (c *Cache) Native() *ExecMemory { return c.native }

func (c *Cache) Close() error {
	return c.native.Free()
}

// StartMethod begins generating the body of owner. The returned cursor must
// be passed to EndMethod.
func (c *Cache) StartMethod(owner any) (*Posn, error) {
	c.allocMu.Lock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.forceFresh {
		if !c.newPageLocked() {
			c.allocMu.Unlock()
			return nil, cvmerrors.ErrCacheFull
		}
		c.forceFresh = false
	}
	p := c.current
	return &Posn{c: c, owner: owner, page: p, start: p.used, ptr: p.used, limit: len(p.data), table: -1}, nil
}

func (c *Cache) newPageLocked() bool {
	if c.allocated+c.cfg.PageSize > c.cfg.MaxBytes {
		return false
	}
	p := &page{base: c.nextBase, data: make([]byte, c.cfg.PageSize)}
	c.nextBase += uint64(c.cfg.PageSize)
	c.pages = append(c.pages, p)
	c.allocated += c.cfg.PageSize
	c.current = p
	log.Debug(log.CacheMonitoring, "new page", "base", fmt.Sprintf("0x%x", p.base), "pages", len(c.pages))
	return true
}

// EndMethod finishes the method started with posn. On EndOK the method is
// resident and returned; every other result discards what was written.
func (c *Cache) EndMethod(posn *Posn) (*Method, EndResult) {
	defer c.allocMu.Unlock()
	c.mu.Lock()
	var (
		m      *Method
		result EndResult
	)
	switch {
	case !posn.overflow:
		m = c.commitLocked(posn)
		result = EndOK
	case posn.start == 0:
		result = EndTooBig
	case c.allocated+c.cfg.PageSize > c.cfg.MaxBytes:
		result = EndFull
	default:
		c.forceFresh = true
		c.stats.Restarts++
		result = EndRestart
	}
	notify, evicted := c.onEvict, c.evicted
	c.evicted = nil
	c.mu.Unlock()
	if result != EndOK {
		log.Debug(log.CacheMonitoring, "method not stored", "owner", posn.owner, "result", result, "pos", posn.Position())
	}
	if notify != nil {
		for _, owner := range evicted {
			notify(owner)
		}
	}
	return m, result
}

// AbortMethod discards the method started with posn.
func (c *Cache) AbortMethod(posn *Posn) {
	defer c.allocMu.Unlock()
	posn.overflow = true
	log.Debug(log.CacheMonitoring, "method aborted", "owner", posn.owner)
}

func (c *Cache) commitLocked(posn *Posn) *Method {
	p := posn.page
	code := p.data[posn.start:posn.ptr:posn.ptr]
	m := &Method{
		Owner:       posn.owner,
		Start:       p.base + uint64(posn.start),
		Code:        code,
		TableOffset: posn.table,
		Fingerprint: xxh3.Hash(code),
		ilMap:       posn.ilMap,
		page:        p,
	}
	sort.SliceStable(m.ilMap, func(i, j int) bool { return m.ilMap[i].CVM < m.ilMap[j].CVM })
	m.byIL = append([]OffsetPair(nil), m.ilMap...)
	sort.SliceStable(m.byIL, func(i, j int) bool { return m.byIL[i].IL < m.byIL[j].IL })

	// align the next method
	p.used = (posn.ptr + 7) &^ 7
	if p.used > len(p.data) {
		p.used = len(p.data)
	}
	p.live++

	if c.methods.Contains(posn.owner) {
		c.replacing = true
		c.methods.Remove(posn.owner)
		c.replacing = false
	}
	c.insertRegionLocked(Region{Start: m.Start, End: m.End(), Method: m})
	c.methods.Add(posn.owner, m)
	log.Trace(log.CacheMonitoring, "method stored", "owner", posn.owner, "start", fmt.Sprintf("0x%x", m.Start), "len", len(code), "xxh3", fmt.Sprintf("%016x", m.Fingerprint))
	return m
}

func (c *Cache) insertRegionLocked(r Region) {
	i, _ := slices.BinarySearchFunc(c.regions, r.Start, func(e Region, pc uint64) int {
		switch {
		case e.Start < pc:
			return -1
		case e.Start > pc:
			return 1
		}
		return 0
	})
	c.regions = slices.Insert(c.regions, i, r)
}

// removeLocked is the lru eviction callback; c.mu is held by every caller
// that can trigger it.
func (c *Cache) removeLocked(owner any, m *Method) {
	m.evicted.Store(true)
	c.regions = slices.DeleteFunc(c.regions, func(r Region) bool { return r.Method == m })
	m.page.live--
	if m.page.live == 0 && m.page != c.current {
		c.releasePageLocked(m.page)
	}
	if c.replacing {
		return
	}
	c.stats.Evictions++
	c.evicted = append(c.evicted, owner)
	log.Debug(log.CacheMonitoring, "method evicted", "owner", owner)
}

// releasePageLocked returns the page's budget. Methods still executing keep
// their Code slices alive, so the memory itself is left to the collector.
func (c *Cache) releasePageLocked(p *page) {
	for i, q := range c.pages {
		if q == p {
			c.pages = slices.Delete(c.pages, i, i+1)
			c.allocated -= len(p.data)
			return
		}
	}
}

// Evict removes owner's method from the cache.
func (c *Cache) Evict(owner any) bool {
	c.mu.Lock()
	ok := c.methods.Remove(owner)
	notify, evicted := c.onEvict, c.evicted
	c.evicted = nil
	c.mu.Unlock()
	if notify != nil {
		for _, o := range evicted {
			notify(o)
		}
	}
	return ok
}

// Flush evicts every method, drops every page and empties the native region.
func (c *Cache) Flush() {
	c.allocMu.Lock()
	defer c.allocMu.Unlock()
	c.mu.Lock()
	c.methods.Purge()
	c.pages = nil
	c.current = nil
	c.allocated = 0
	c.regions = nil
	c.native.Reset()
	c.stats.Flushes++
	notify, evicted := c.onEvict, c.evicted
	c.evicted = nil
	c.mu.Unlock()
	if notify != nil {
		for _, o := range evicted {
			notify(o)
		}
	}
}

// MethodToPC returns the entry pc of owner's method and marks it recently used.
func (c *Cache) MethodToPC(owner any) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.methods.Get(owner)
	if !ok {
		return 0, false
	}
	return m.Start, true
}

// Lookup returns owner's method and marks it recently used.
func (c *Cache) Lookup(owner any) (*Method, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.methods.Get(owner)
}

// PCToMethod finds the method whose bytecode or native fragments contain pc.
func (c *Cache) PCToMethod(pc uint64) (*Method, error) {
	r, ok := c.region(pc)
	if !ok {
		return nil, fmt.Errorf("pc 0x%x: %w", pc, cvmerrors.ErrUnknownPC)
	}
	return r.Method, nil
}

// PCToHandler returns the pc of the exception handler table of the method
// containing pc.
func (c *Cache) PCToHandler(pc uint64) (uint64, error) {
	m, err := c.PCToMethod(pc)
	if err != nil {
		return 0, err
	}
	if m.TableOffset < 0 {
		return 0, fmt.Errorf("method %v has no handler table: %w", m.Owner, cvmerrors.ErrUnknownPC)
	}
	return m.PCOf(m.TableOffset), nil
}

func (c *Cache) region(pc uint64) (Region, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := sort.Search(len(c.regions), func(i int) bool { return c.regions[i].Start > pc })
	if i == 0 {
		return Region{}, false
	}
	r := c.regions[i-1]
	if !r.Contains(pc) {
		return Region{}, false
	}
	return r, true
}

// AllocNative reserves native code space for a fragment of m. The region is
// registered after the fragment is written with CommitNative.
func (c *Cache) AllocNative(size int) (uintptr, []byte, error) {
	addr, buf, err := c.native.Allocate(size)
	if err != nil {
		return 0, nil, err
	}
	return addr, buf, nil
}

// CommitNative trims the allocation at addr to used bytes and records it as
// belonging to m.
func (c *Cache) CommitNative(m *Method, addr uintptr, used int) {
	c.native.Shrink(addr, used)
	if used == 0 {
		return
	}
	r := Region{Start: uint64(addr), End: uint64(addr) + uint64(used), Method: m, Native: true}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.Evicted() {
		return
	}
	m.native = append(m.native, r)
	c.insertRegionLocked(r)
}

// Methods returns the resident methods, oldest first.
func (c *Cache) Methods() []*Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.methods.Values()
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Methods = c.methods.Len()
	s.Pages = len(c.pages)
	for _, p := range c.pages {
		s.BytesUsed += p.used
	}
	s.NativeUsed = c.native.Used()
	return s
}
