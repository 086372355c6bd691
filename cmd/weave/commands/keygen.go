package commands

import (
	"fmt"
	"os"
	"path"

	"github.com/mosaicnetworks/weave/src/config"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/weave"
	"github.com/spf13/cobra"
)

var (
	privKeyFile           string
	pubKeyFile            string
	defaultPrivateKeyFile = path.Join(_config.Weave.DataDir, config.DefaultKeyfile)
	defaultPublicKeyFile  = path.Join(_config.Weave.DataDir, config.DefaultPubKeyfile)
)

// NewKeygenCmd produces a KeygenCmd which create a key pair
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create new key pair",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&privKeyFile, "priv", defaultPrivateKeyFile, "File where the private key will be written")
	cmd.Flags().StringVar(&pubKeyFile, "pub", defaultPublicKeyFile, "File where the public key will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(privKeyFile); err == nil {
		return fmt.Errorf("A key already lives under: %s", path.Dir(privKeyFile))
	}

	if err := os.MkdirAll(path.Dir(pubKeyFile), 0700); err != nil {
		return fmt.Errorf("Writing public key: %s", err)
	}

	key, err := weave.Keygen(privKeyFile, pubKeyFile)
	if err != nil {
		return fmt.Errorf("Generating key: %s", err)
	}

	fmt.Printf("Your private key has been saved to: %s\n", privKeyFile)
	fmt.Printf("Your public key has been saved to: %s\n", pubKeyFile)
	fmt.Println(keys.PublicKeyHex(key.PubKey()))

	return nil
}
