package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cryptalk/go-cryptalk-server/util"
	"github.com/spf13/cobra"
)

var identityOutputFile string

func init() {
	identityCmd.Flags().StringVarP(&identityOutputFile, "output", "o", "", "output file (default is stdout)")
	rootCmd.AddCommand(identityCmd)
}

// identityCmd generates a client RSA identity key pair, mostly useful for
// smoke-testing a deployment without a full client
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Generate an RSA identity key pair",
	Long:  "Generate a client RSA-2048 identity key pair. The public half is printed as the directory envelope, the private half as PKCS#8 base64. Keep the private half off any server.",
	Run: func(cmd *cobra.Command, args []string) {
		priv, err := util.GenerateIdentityKeyPair()
		check(err)

		publicEnvelope, err := util.ExportPublicKey(&priv.PublicKey)
		check(err)
		privateBytes, err := util.MarshalPrivateKey(priv)
		check(err)

		keysJson := map[string]interface{}{
			"type":        "cryptalk_identity_keys_rsa2048",
			"publicKey":   publicEnvelope,
			"privateKey":  base64.StdEncoding.EncodeToString(privateBytes),
			"fingerprint": util.KeyFingerprint(publicEnvelope),
			"created":     time.Now().UnixMilli(),
		}
		fileBytes, err := json.MarshalIndent(keysJson, "", "  ")
		check(err)
		if identityOutputFile != "" {
			if _, err := os.Stat(identityOutputFile); !errors.Is(err, os.ErrNotExist) {
				fmt.Printf("File already exists: %s\n", identityOutputFile)
				os.Exit(1)
			}
			err = os.WriteFile(identityOutputFile, fileBytes, 0600)
			check(err)
			fmt.Printf("Output file: %s\n", identityOutputFile)
		} else {
			fmt.Printf("\n%s\n", string(fileBytes))
		}
	},
}
