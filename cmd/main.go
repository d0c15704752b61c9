package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func check(e error) {
	if e != nil {
		fmt.Printf("%v\n", e.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cryptalk",
	Short:   "Cryptalk is an end-to-end encrypted group messaging server",
	Long:    `Cryptalk is an end-to-end encrypted group messaging server. It relays ciphertext and wrapped conversation keys between clients and never holds key material that could decrypt a message.`,
	Version: "0.1.0",
	Run: func(cmd *cobra.Command, args []string) {
		// empty
	},
}

func main() {
	Execute()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
