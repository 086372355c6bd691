// Package weave wires the components of a node from a configuration: key,
// peers, store, transport, node and HTTP service.
package weave

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/weave/src/config"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/net"
	"github.com/mosaicnetworks/weave/src/node"
	"github.com/mosaicnetworks/weave/src/peers"
	"github.com/mosaicnetworks/weave/src/service"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Weave is the engine that starts a node from a Config.
type Weave struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     store.Store
	Peers     *peers.PeerSet
	Service   *service.Service
	logger    *logrus.Entry
}

// NewWeave ...
func NewWeave(c *config.Config) *Weave {
	engine := &Weave{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

// Init creates every component. It must be called before Run.
func (w *Weave) Init() error {
	if err := w.initKey(); err != nil {
		return err
	}

	if err := w.initPeers(); err != nil {
		return err
	}

	if err := w.initStore(); err != nil {
		return err
	}

	if err := w.initTransport(); err != nil {
		return err
	}

	if err := w.initNode(); err != nil {
		return err
	}

	if err := w.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the service, if any, and runs the node until it shuts down.
func (w *Weave) Run() {
	if w.Service != nil {
		go w.Service.Serve()
	}

	w.Node.Run()
}

func (w *Weave) initKey() error {
	if w.Config.Key != nil {
		return nil
	}

	simpleKeyfile := keys.NewSimpleKeyfile(w.Config.Keyfile())

	privKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		w.logger.WithError(err).Warn("Cannot read private key from file")

		privKey, err = Keygen(w.Config.Keyfile(), w.Config.PubKeyfile())
		if err != nil {
			w.logger.WithError(err).Error("Cannot generate a new private key")
			return err
		}

		w.logger.WithField("pub_key", keys.PublicKeyHex(privKey.PubKey())).Info("Created a new key")
	}

	w.Config.Key = privKey

	return nil
}

func (w *Weave) initPeers() error {
	ps, err := peers.NewJSONPeerSet(w.Config.DataDir).PeerSet()
	if err != nil {
		return errors.Wrap(err, "reading peers.json")
	}

	w.Peers = ps

	w.logger.WithField("peers", ps.Len()).Debug("Loaded bootstrap peers")

	return nil
}

func (w *Weave) initStore() error {
	w.logger.WithField("path", w.Config.DatabaseDir).Debug("Attempting to load or create database")

	s, err := store.NewBadgerStore(
		w.Config.DatabaseDir,
		w.Config.CacheSize,
		w.Config.Quota,
		w.logger,
	)
	if err != nil {
		return errors.Wrap(err, "opening store")
	}

	w.Store = s

	return nil
}

func (w *Weave) initTransport() error {
	transport, err := net.NewTCPTransport(
		w.Config.BindAddr,
		w.Config.AdvertiseAddr,
		w.Config.MaxPool,
		w.Config.TCPTimeout,
		w.Config.TransferTimeout,
		w.logger,
	)
	if err != nil {
		return err
	}

	w.Transport = transport

	return nil
}

func (w *Weave) initNode() error {
	n, err := node.NewNode(
		w.Config.NodeConfig(),
		w.Config.Key,
		w.Peers,
		w.Store,
		w.Transport,
	)
	if err != nil {
		return fmt.Errorf("failed to create node: %s", err)
	}

	if err := n.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	w.Node = n

	return nil
}

func (w *Weave) initService() error {
	if !w.Config.NoService {
		w.Service = service.NewService(w.Config.ServiceAddr, w.Node, w.logger)
	}
	return nil
}

// Keygen creates a new key, writes it to keyfile and its public key to
// pubfile. It fails if keyfile already holds a key.
func Keygen(keyfile, pubfile string) (*btcec.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	if err := os.WriteFile(pubfile, []byte(keys.PublicKeyHex(privKey.PubKey())), 0600); err != nil {
		return nil, err
	}

	return privKey, nil
}
