// Package config defines the configuration for a Weave node.
//
// Regardless of how Weave is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. On top of these
// configuration options, Weave relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key // a plain text file containing the hex private key (cf. weave keygen).
//  key.pub // the matching public key, written by keygen.
//  peers.json // (optional) a JSON file containing the bootstrap peers.
//  weave.toml // (optional) configuration file read by the command line.
package config
