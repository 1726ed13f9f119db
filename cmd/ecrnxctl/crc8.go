package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/soypat/ecrnx/fwdl"
	"github.com/spf13/cobra"
)

var flagCRCFile string

var crc8Cmd = &cobra.Command{
	Use:   "crc8 [hex]",
	Short: "Compute the boot ROM CRC-8 of hex bytes or a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		switch {
		case flagCRCFile != "":
			data, err = os.ReadFile(flagCRCFile)
		case len(args) == 1:
			data, err = hex.DecodeString(strings.NewReplacer(" ", "", ":", "").Replace(args[0]))
		default:
			return fmt.Errorf("need hex argument or --file")
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%#02x\n", fwdl.CRC8(data))
		return nil
	},
}

func init() {
	crc8Cmd.Flags().StringVarP(&flagCRCFile, "file", "f", "", "Compute over file contents.")
	rootCmd.AddCommand(crc8Cmd)
}
