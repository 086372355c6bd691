package commands

import (
	"github.com/mosaicnetworks/weave/src/weave"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a Weave node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runWeave,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runWeave(cmd *cobra.Command, args []string) error {
	engine := weave.NewWeave(&_config.Weave)

	if err := engine.Init(); err != nil {
		_config.Weave.Logger().WithError(err).Error("Cannot initialize engine")
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	c := &_config.Weave

	cmd.Flags().String("datadir", c.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", c.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("log-file", c.LogFile, "Also write the log to weave.log in the datadir")
	cmd.Flags().String("moniker", c.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", c.BindAddr, "Listen IP:Port for weave node")
	cmd.Flags().StringP("advertise", "a", c.AdvertiseAddr, "Advertise IP:Port for weave node")
	cmd.Flags().DurationP("timeout", "t", c.TCPTimeout, "TCP Timeout")
	cmd.Flags().Duration("transfer-timeout", c.TransferTimeout, "Timeout of one fragment transfer")
	cmd.Flags().Int("max-pool", c.MaxPool, "Connection pool size max")

	// Service
	cmd.Flags().StringP("service-listen", "s", c.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", c.NoService, "Disable HTTP service")

	// Store
	cmd.Flags().String("db", c.DatabaseDir, "Database directory")
	cmd.Flags().Int("cache-size", c.CacheSize, "Number of events in the LRU cache")
	cmd.Flags().Uint64("quota", c.Quota, "Bytes of blobs and fragments to store, 0 for unlimited")

	// Node
	cmd.Flags().Bool("maintenance-mode", c.MaintenanceMode, "Start without background tasks")
	cmd.Flags().String("mint-policy", c.MintPolicy, "open or authorized")
	cmd.Flags().StringSlice("minters", c.Minters, "Public keys allowed to mint under the authorized policy")
	cmd.Flags().Bool("flag-exclusions", c.FlagExclusions, "Publish invalidations for excluded token events")
	cmd.Flags().Duration("anti-entropy", c.AntiEntropyInterval, "Time between head comparisons with a peer")
	cmd.Flags().Duration("repair", c.RepairInterval, "Time between repair passes")
	cmd.Flags().Duration("audit", c.AuditInterval, "Time between storage audits")
	cmd.Flags().Duration("gc", c.GCInterval, "Time between garbage collections")
	cmd.Flags().Duration("snapshot", c.SnapshotInterval, "Time between ledger snapshots")
	cmd.Flags().Duration("presence", c.PresenceInterval, "Time between presence announcements")

	// Replication
	cmd.Flags().Int("chunk-size", c.ChunkSize, "Size of the chunks blobs are split into")
	cmd.Flags().Int("data-shards", c.DataShards, "Fragments needed to rebuild a chunk")
	cmd.Flags().Int("total-shards", c.TotalShards, "Fragments a chunk is coded into")
	cmd.Flags().Int("target-holders", c.TargetHolders, "Peers that should hold fragments of a chunk")
	cmd.Flags().Duration("retention", c.Retention, "Time an unreferenced blob is kept")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Weave.SetDataDir(_config.Weave.DataDir)

	c := &_config.Weave
	c.Logger().WithFields(logrus.Fields{
		"weave.DataDir":         c.DataDir,
		"weave.DatabaseDir":     c.DatabaseDir,
		"weave.BindAddr":        c.BindAddr,
		"weave.AdvertiseAddr":   c.AdvertiseAddr,
		"weave.ServiceAddr":     c.ServiceAddr,
		"weave.NoService":       c.NoService,
		"weave.MaxPool":         c.MaxPool,
		"weave.LogLevel":        c.LogLevel,
		"weave.Moniker":         c.Moniker,
		"weave.TCPTimeout":      c.TCPTimeout,
		"weave.CacheSize":       c.CacheSize,
		"weave.Quota":           c.Quota,
		"weave.MintPolicy":      c.MintPolicy,
		"weave.MaintenanceMode": c.MaintenanceMode,
		"weave.DataShards":      c.DataShards,
		"weave.TotalShards":     c.TotalShards,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/weave.toml (.json, .yaml also work)
	viper.SetConfigName("weave")               // name of config file (without extension)
	viper.AddConfigPath(_config.Weave.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Weave.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Weave.Logger().Debugf("No config file found in: %s", _config.Weave.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
