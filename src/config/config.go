package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/node"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultPubKeyfile is the default name of the file containing the
	// node's public key
	DefaultPubKeyfile = "key.pub"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultLogFile is the name of the log file written when LogFile is set.
	DefaultLogFile = "weave.log"
)

// Default configuration values.
const (
	DefaultLogLevel            = "debug"
	DefaultBindAddr            = "127.0.0.1:1337"
	DefaultServiceAddr         = "127.0.0.1:8000"
	DefaultTCPTimeout          = 1000 * time.Millisecond
	DefaultTransferTimeout     = 30 * time.Second
	DefaultMaxPool             = 2
	DefaultCacheSize           = 10000
	DefaultQuota               = 0
	DefaultMaintenanceMode     = false
	DefaultMintPolicy          = "open"
	DefaultAntiEntropyInterval = 5 * time.Second
	DefaultRepairInterval      = time.Minute
	DefaultAuditInterval       = 10 * time.Minute
	DefaultGCInterval          = time.Hour
	DefaultSnapshotInterval    = 10 * time.Minute
	DefaultPresenceInterval    = time.Hour
	DefaultChunkSize           = 1 << 20
	DefaultDataShards          = 10
	DefaultTotalShards         = 30
	DefaultTargetHolders       = 30
	DefaultRetention           = 7 * 24 * time.Hour
)

// Config contains all the configuration properties of a Weave node.
type Config struct {
	// DataDir is the top-level directory containing Weave configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile mirrors the log output to weave.log in the data directory.
	LogFile bool `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node gossips with other
	// nodes. In some cases, there may be a routable address that cannot be
	// bound. Use AdvertiseAddr to advertise a different address to support
	// this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP API service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// TransferTimeout bounds the transfer of one fragment over a connection.
	TransferTimeout time.Duration `mapstructure:"transfer-timeout"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of events in the in-memory cache.
	CacheSize int `mapstructure:"cache-size"`

	// Quota is the number of bytes of blobs and fragments this node is
	// willing to store. Zero means unlimited.
	Quota uint64 `mapstructure:"quota"`

	// MaintenanceMode when set to true causes Weave to initialise in a
	// suspended state. It serves requests but runs no background tasks.
	MaintenanceMode bool `mapstructure:"maintenance-mode"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// MintPolicy is "open" or "authorized". With "authorized", only the keys
	// listed in Minters may mint.
	MintPolicy string   `mapstructure:"mint-policy"`
	Minters    []string `mapstructure:"minters"`

	// FlagExclusions publishes an invalidation event for every token event
	// of this node that the ledger excludes.
	FlagExclusions bool `mapstructure:"flag-exclusions"`

	// Background task periods. Zero disables a task.
	AntiEntropyInterval time.Duration `mapstructure:"anti-entropy"`
	RepairInterval      time.Duration `mapstructure:"repair"`
	AuditInterval       time.Duration `mapstructure:"audit"`
	GCInterval          time.Duration `mapstructure:"gc"`
	SnapshotInterval    time.Duration `mapstructure:"snapshot"`
	PresenceInterval    time.Duration `mapstructure:"presence"`

	// Erasure coding: blobs are cut into ChunkSize pieces, each coded into
	// TotalShards fragments of which any DataShards rebuild it.
	ChunkSize     int `mapstructure:"chunk-size"`
	DataShards    int `mapstructure:"data-shards"`
	TotalShards   int `mapstructure:"total-shards"`
	TargetHolders int `mapstructure:"target-holders"`

	// Retention is how long an unreferenced blob is kept.
	Retention time.Duration `mapstructure:"retention"`

	// Key is the private key of the node. When nil, it is read from the
	// keyfile in the data directory, or generated.
	Key *btcec.PrivateKey `mapstructure:"-"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:             DefaultDataDir(),
		LogLevel:            DefaultLogLevel,
		BindAddr:            DefaultBindAddr,
		ServiceAddr:         DefaultServiceAddr,
		MaxPool:             DefaultMaxPool,
		TCPTimeout:          DefaultTCPTimeout,
		TransferTimeout:     DefaultTransferTimeout,
		DatabaseDir:         DefaultDatabaseDir(),
		CacheSize:           DefaultCacheSize,
		Quota:               DefaultQuota,
		MaintenanceMode:     DefaultMaintenanceMode,
		MintPolicy:          DefaultMintPolicy,
		AntiEntropyInterval: DefaultAntiEntropyInterval,
		RepairInterval:      DefaultRepairInterval,
		AuditInterval:       DefaultAuditInterval,
		GCInterval:          DefaultGCInterval,
		SnapshotInterval:    DefaultSnapshotInterval,
		PresenceInterval:    DefaultPresenceInterval,
		ChunkSize:           DefaultChunkSize,
		DataShards:          DefaultDataShards,
		TotalShards:         DefaultTotalShards,
		TargetHolders:       DefaultTargetHolders,
		Retention:           DefaultRetention,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level Weave directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// PubKeyfile returns the full path of the file containing the public key.
func (c *Config) PubKeyfile() string {
	return filepath.Join(c.DataDir, DefaultPubKeyfile)
}

// NodeConfig returns the node settings derived from c.
func (c *Config) NodeConfig() *node.Config {
	conf := node.DefaultConfig()

	conf.AntiEntropyInterval = c.AntiEntropyInterval
	conf.RepairInterval = c.RepairInterval
	conf.AuditInterval = c.AuditInterval
	conf.GCInterval = c.GCInterval
	conf.SnapshotInterval = c.SnapshotInterval
	conf.PresenceInterval = c.PresenceInterval
	conf.MintPolicy = c.MintPolicy
	conf.Minters = c.Minters
	conf.FlagExclusions = c.FlagExclusions
	conf.Maintenance = c.MaintenanceMode
	conf.Moniker = c.Moniker

	conf.Replication.ChunkSize = c.ChunkSize
	conf.Replication.K = c.DataShards
	conf.Replication.M = c.TotalShards
	conf.Replication.TargetHolders = c.TargetHolders
	conf.Replication.Retention = c.Retention
	conf.Replication.Timeout = c.TransferTimeout

	conf.Logger = c.Logger()

	return conf
}

// Logger returns a formatted logrus Entry, with prefix set to "weave". When
// LogFile is set, the output is also written to weave.log in the data
// directory.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile {
			path := filepath.Join(c.DataDir, DefaultLogFile)
			if err := os.MkdirAll(c.DataDir, 0700); err != nil {
				c.logger.WithError(err).Error("Failed to create data directory, not writing log file")
			} else {
				c.logger.Hooks.Add(lfshook.NewHook(path, &logrus.JSONFormatter{}))
			}
		}
	}
	return c.logger.WithField("prefix", "weave")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level Weave config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Weave")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Weave")
		} else {
			return filepath.Join(home, ".weave")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch strings.ToLower(l) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
