package common

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/magiconair/properties"
	"go.uber.org/zap/zapcore"
)

const (
	keyPoolSize       = "pool.size"
	keyClassPoolSize  = "pool.size."
	keyStorePath      = "store.path"
	keyLogLevel       = "log.level"
	keyLatchSpinLimit = "latch.spin"
)

// Config holds the knobs of a buffer manager instance.
type Config struct {
	// PoolSize is the byte size of every class pool unless overridden.
	// A class whose slot is larger than PoolSize gets an empty pool.
	PoolSize uint64
	// ClassPoolSizes overrides PoolSize per class id. Zero disables the class.
	ClassPoolSizes map[uint8]uint64
	// PageStorePath selects the direct I/O page store. Empty means in-memory.
	PageStorePath string
	LogLevel      zapcore.Level
	// SpinLimit is the number of busy iterations between scheduler yields
	// while waiting on a latch.
	SpinLimit int
}

func DefaultConfig() *Config {
	return &Config{
		PoolSize:       DefaultPoolSize,
		ClassPoolSizes: make(map[uint8]uint64),
		LogLevel:       zapcore.WarnLevel,
		SpinLimit:      DefaultSpinLimit,
	}
}

// LoadConfig reads a properties file, e.g.
//
//	pool.size = 1073741824
//	pool.size.12 = 65536
//	store.path = /var/lib/poolish/pages.db
//	log.level = info
func LoadConfig(filename string) (*Config, error) {
	p, err := properties.LoadFile(filename, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", filename, err)
	}
	return ConfigFromProperties(p)
}

func ConfigFromProperties(p *properties.Properties) (*Config, error) {
	cfg := DefaultConfig()

	if v, ok := p.Get(keyPoolSize); ok {
		size, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", keyPoolSize, err)
		}
		cfg.PoolSize = size
	}

	overrides := p.FilterStripPrefix(keyClassPoolSize)
	for _, key := range overrides.Keys() {
		cid, err := strconv.ParseUint(key, 10, 8)
		if err != nil || cid < MinClassID || cid > MaxClassID {
			return nil, fmt.Errorf("config %s%s: class id must be in [%d,%d]", keyClassPoolSize, key, MinClassID, MaxClassID)
		}
		size, err := strconv.ParseUint(overrides.MustGetString(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config %s%s: %w", keyClassPoolSize, key, err)
		}
		cfg.ClassPoolSizes[uint8(cid)] = size
	}

	cfg.PageStorePath = p.GetString(keyStorePath, "")

	if v, ok := p.Get(keyLogLevel); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("config %s: %w", keyLogLevel, err)
		}
	}

	cfg.SpinLimit = p.GetInt(keyLatchSpinLimit, DefaultSpinLimit)
	if cfg.SpinLimit <= 0 {
		return nil, fmt.Errorf("config %s: must be positive, got %d", keyLatchSpinLimit, cfg.SpinLimit)
	}

	return cfg, nil
}

// PoolSizeOf returns the configured pool byte size of a class.
func (c *Config) PoolSizeOf(cid uint8) uint64 {
	if size, ok := c.ClassPoolSizes[cid]; ok {
		return size
	}
	if c.PoolSize < uint64(1)<<cid {
		return 0
	}
	return c.PoolSize
}

// Properties renders the config back into properties form.
func (c *Config) Properties() *properties.Properties {
	p := properties.NewProperties()
	p.MustSet(keyPoolSize, strconv.FormatUint(c.PoolSize, 10))

	cids := make([]int, 0, len(c.ClassPoolSizes))
	for cid := range c.ClassPoolSizes {
		cids = append(cids, int(cid))
	}
	sort.Ints(cids)
	for _, cid := range cids {
		p.MustSet(keyClassPoolSize+strconv.Itoa(cid), strconv.FormatUint(c.ClassPoolSizes[uint8(cid)], 10))
	}

	if c.PageStorePath != "" {
		p.MustSet(keyStorePath, c.PageStorePath)
	}
	p.MustSet(keyLogLevel, c.LogLevel.String())
	p.MustSet(keyLatchSpinLimit, strconv.Itoa(c.SpinLimit))
	return p
}
