package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

// Storage engine names accepted in Config.Engine.
const (
	EngineMemory  = "memory"
	EngineBadger  = "badger"
	EngineLevelDB = "leveldb"
)

type Config struct {
	// Engine picks the storage engine: memory, badger or leveldb.
	Engine   string `toml:"engine"`
	DBPath   string `toml:"db-path"` // Directory to store the data in. Should exist and be writable.
	LogLevel string `toml:"log-level"`

	// NumShards is the number of shards the key space is split into for write conflict detection.
	NumShards int `toml:"num-shards"`
	// MaxRetries bounds how many times an operation is retried after a write conflict.
	MaxRetries int `toml:"max-retries"`
	// RetryBackoff is the first backoff after a write conflict, doubled on every retry.
	RetryBackoff    Duration `toml:"retry-backoff"`
	MaxRetryBackoff Duration `toml:"max-retry-backoff"`

	Badger  BadgerConfig  `toml:"badger"`
	LevelDB LevelDBConfig `toml:"leveldb"`
}

type BadgerConfig struct {
	SyncWrites     bool     `toml:"sync-writes"`
	ValueThreshold int      `toml:"value-threshold"`
	VlogFileSize   ByteSize `toml:"vlog-file-size"`
	MaxTableSize   ByteSize `toml:"max-table-size"`
	NumMemTables   int      `toml:"num-mem-tables"`
	NumCompactors  int      `toml:"num-compactors"`
}

type LevelDBConfig struct {
	NoSync         bool     `toml:"no-sync"`
	BlockCacheSize ByteSize `toml:"block-cache-size"`
	WriteBuffer    ByteSize `toml:"write-buffer"`
	// InMemory keeps the leveldb files in memory, for testing.
	InMemory bool `toml:"in-memory"`
}

// Duration is a time.Duration read from a string such as "10ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Trace(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ByteSize is a size read from a string such as "64MB".
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.RAMInBytes(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.BytesSize(float64(b))), nil
}

func (c *Config) Validate() error {
	switch c.Engine {
	case EngineMemory:
	case EngineBadger, EngineLevelDB:
		if c.DBPath == "" {
			return fmt.Errorf("engine %s needs a db path", c.Engine)
		}
	default:
		return fmt.Errorf("unknown storage engine %q", c.Engine)
	}

	if c.NumShards <= 0 {
		return fmt.Errorf("shard count must greater than 0")
	}

	if c.NumShards&(c.NumShards-1) != 0 {
		log.Warnf("Shard count %d is not a power of two, "+
			"keys may spread unevenly across shards.", c.NumShards)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}

	if c.MaxRetryBackoff.Duration < c.RetryBackoff.Duration {
		return fmt.Errorf("max retry backoff must not be smaller than retry backoff")
	}

	return nil
}

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		Engine:          EngineBadger,
		DBPath:          "/tmp/dictkv",
		LogLevel:        getLogLevel(),
		NumShards:       16,
		MaxRetries:      10,
		RetryBackoff:    Duration{time.Millisecond},
		MaxRetryBackoff: Duration{100 * time.Millisecond},
		Badger: BadgerConfig{
			SyncWrites:     true,
			ValueThreshold: 256,
			VlogFileSize:   ByteSize(256 * MB),
			MaxTableSize:   ByteSize(64 * MB),
			NumMemTables:   3,
			NumCompactors:  3,
		},
		LevelDB: LevelDBConfig{
			BlockCacheSize: ByteSize(8 * MB),
			WriteBuffer:    ByteSize(4 * MB),
		},
	}
}

func NewTestConfig() *Config {
	return &Config{
		Engine:          EngineMemory,
		DBPath:          "/tmp/dictkv-test",
		LogLevel:        getLogLevel(),
		NumShards:       16,
		MaxRetries:      50,
		RetryBackoff:    Duration{50 * time.Microsecond},
		MaxRetryBackoff: Duration{5 * time.Millisecond},
		Badger: BadgerConfig{
			ValueThreshold: 256,
			VlogFileSize:   ByteSize(16 * MB),
			MaxTableSize:   ByteSize(4 * MB),
			NumMemTables:   2,
			NumCompactors:  1,
		},
		LevelDB: LevelDBConfig{
			NoSync:         true,
			BlockCacheSize: ByteSize(1 * MB),
			WriteBuffer:    ByteSize(1 * MB),
		},
	}
}

// LoadFromFile overlays the TOML file at path on the default config and validates the result.
func LoadFromFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}
