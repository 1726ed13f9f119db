package main

import (
	"fmt"
	"os"

	"github.com/soypat/ecrnx/fwdl"
	"github.com/spf13/cobra"
)

var (
	flagPackOutput  string
	flagPackVersion uint32
)

var packCmd = &cobra.Command{
	Use:   "pack ilm.bin dlm.bin iram0.bin",
	Short: "Build a firmware image from raw ILM, DLM and IRAM0 segments",
	Args:  cobra.ExactArgs(fwdl.NumSegments),
	RunE: func(cmd *cobra.Command, args []string) error {
		var segs [fwdl.NumSegments][]byte
		for i, name := range args {
			b, err := os.ReadFile(name)
			if err != nil {
				return err
			}
			segs[i] = b
		}
		raw := fwdl.AppendImage(nil, flagPackVersion, segs)
		img, err := fwdl.ParseImage(raw)
		if err != nil {
			return err
		}
		if err := os.WriteFile(flagPackOutput, raw, 0o644); err != nil {
			return err
		}
		for _, s := range img.Segments {
			fmt.Fprintf(cmd.OutOrStdout(), "%-6s addr=%#07x len=%d\n", s.Name, s.Addr, len(s.Data))
		}
		return nil
	},
}

func init() {
	packCmd.Flags().StringVarP(&flagPackOutput, "output", "o", "firmware.bin", "Output image filename.")
	packCmd.Flags().Uint32Var(&flagPackVersion, "version", 0, "Image version.")
	rootCmd.AddCommand(packCmd)
}
