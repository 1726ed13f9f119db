package main

import (
	"fmt"
	"io"
	"os"

	"github.com/soypat/ecrnx/fwdl"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"github.com/spf13/cobra"
)

var (
	flagDecodeClk  string
	flagDecodeCS   string
	flagDecodeMOSI string
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode boot ROM frames from Saleae digital captures of an SPI bus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		clk, err := opendigital(flagDecodeClk)
		if err != nil {
			return err
		}
		cs, err := opendigital(flagDecodeCS)
		if err != nil {
			return err
		}
		mosi, err := opendigital(flagDecodeMOSI)
		if err != nil {
			return err
		}
		spi := analyzers.SPI{}
		txs, _ := spi.Scan(clk, cs, mosi, mosi)
		return printFrames(cmd.OutOrStdout(), txs)
	},
}

func init() {
	decodeCmd.Flags().StringVar(&flagDecodeClk, "f-clk", "digital_2.bin", "Input filename: SPI clock.")
	decodeCmd.Flags().StringVar(&flagDecodeCS, "f-cs", "digital_0.bin", "Input filename: SPI chip select.")
	decodeCmd.Flags().StringVar(&flagDecodeMOSI, "f-sd", "digital_1.bin", "Input filename: SPI host to device data.")
	rootCmd.AddCommand(decodeCmd)
}

func printFrames(w io.Writer, txs []analyzers.TxSPI) error {
	for i, tx := range txs {
		f, err := fwdl.DecodeFrame(tx.SDO)
		if err != nil {
			_, err = fmt.Fprintf(w, "%4d t=%f raw=%#x\n", i, tx.StartTime(), tx.SDO)
		} else {
			_, err = fmt.Fprintf(w, "%4d t=%f %s\n", i, tx.StartTime(), f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}
