package dedup

import (
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
)

// Config controls duplicate detection.
type Config struct {
	// Enabled turns detection on. A disabled cache never reports duplicates.
	Enabled bool
	// Window is how long an entry suppresses repeats.
	Window time.Duration
	// Capacity is the ring size.
	Capacity int
	// Precision is the number of decimals floats are rounded to before hashing.
	Precision int
}

// DefaultConfig returns the settings used against a single Signal K server.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Window:    150 * time.Millisecond,
		Capacity:  50,
		Precision: 6,
	}
}

type entry struct {
	key        uint64
	insertedAt time.Time
	used       bool
}

// Cache remembers recent (timestamp, source, path, value) tuples in a fixed ring.
// Lookups scan the whole ring; capacity is expected to stay in the tens.
type Cache struct {
	cfg     Config
	scale   float64
	entries []entry
	next    int
	buf     []byte
}

// New allocates a cache. Capacity below 1 is raised to 1.
func New(cfg Config) *Cache {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.Precision < 0 {
		cfg.Precision = 0
	}
	return &Cache{
		cfg:     cfg,
		scale:   math.Pow10(cfg.Precision),
		entries: make([]entry, cfg.Capacity),
	}
}

// IsDuplicate reports whether the tuple was inserted less than Window ago.
// A hit leaves the ring untouched; a miss records the tuple, overwriting the oldest slot.
func (c *Cache) IsDuplicate(timestamp, source, path string, value any, now time.Time) bool {
	if c == nil || !c.cfg.Enabled {
		return false
	}
	key := c.Key(timestamp, source, path, value)
	for i := range c.entries {
		e := &c.entries[i]
		if e.used && e.key == key && now.Sub(e.insertedAt) < c.cfg.Window {
			return true
		}
	}
	c.entries[c.next] = entry{key: key, insertedAt: now, used: true}
	c.next = (c.next + 1) % len(c.entries)
	return false
}

// Reset forgets every entry.
func (c *Cache) Reset() {
	if c == nil {
		return
	}
	clear(c.entries)
	c.next = 0
}

// Len returns the number of occupied slots.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for i := range c.entries {
		if c.entries[i].used {
			n++
		}
	}
	return n
}

// Key returns the structural hash of a tuple.
func (c *Cache) Key(timestamp, source, path string, value any) uint64 {
	b := c.buf[:0]
	b = append(b, timestamp...)
	b = append(b, 0)
	b = append(b, source...)
	b = append(b, 0)
	b = append(b, path...)
	b = append(b, 0)
	b = c.appendValue(b, value)
	c.buf = b

	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (c *Cache) appendValue(b []byte, value any) []byte {
	switch v := value.(type) {
	case nil:
		return append(b, 'n')
	case bool:
		if v {
			return append(b, 't')
		}
		return append(b, 'f')
	case string:
		b = append(b, 's')
		b = strconv.AppendInt(b, int64(len(v)), 10)
		b = append(b, ':')
		return append(b, v...)
	case float64:
		return c.appendFloat(b, v)
	case float32:
		return c.appendFloat(b, float64(v))
	case int:
		return c.appendFloat(b, float64(v))
	case int64:
		return c.appendFloat(b, float64(v))
	case []any:
		b = append(b, '[')
		for _, item := range v {
			b = c.appendValue(b, item)
			b = append(b, ',')
		}
		return append(b, ']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b = append(b, '{')
		for _, k := range keys {
			b = c.appendValue(b, k)
			b = append(b, '=')
			b = c.appendValue(b, v[k])
			b = append(b, ',')
		}
		return append(b, '}')
	default:
		raw, err := sonic.ConfigStd.Marshal(v)
		if err != nil {
			return append(b, '?')
		}
		b = append(b, 'j')
		return append(b, raw...)
	}
}

func (c *Cache) appendFloat(b []byte, v float64) []byte {
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		v = math.Round(v*c.scale) / c.scale
		if v == 0 {
			v = 0
		}
	}
	b = append(b, 'd')
	return strconv.AppendFloat(b, v, 'g', -1, 64)
}
