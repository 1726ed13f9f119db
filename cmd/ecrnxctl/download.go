package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/soypat/ecrnx"
	"github.com/soypat/ecrnx/config"
	"github.com/soypat/ecrnx/fwdl"
	"github.com/soypat/ecrnx/ipc"
	"github.com/soypat/ecrnx/radar"
	"github.com/soypat/ecrnx/transport"
	"github.com/spf13/cobra"
)

var (
	flagDevice string
	flagUp     bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [image]",
	Short: "Download a firmware image to the radio",
	Long: `Download a firmware image to the radio over the ` + transport.Selected.String() + ` transport.
If no image is given the configured firmware path or name is used.
With --up the message bus is brought up once the download succeeds and kept
running until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&flagDevice, "device", "d", "", "Transport device override.")
	downloadCmd.Flags().BoolVar(&flagUp, "up", false, "Bring up the message bus after the download.")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagDevice != "" {
		cfg.Transport.Device = flagDevice
	}
	logger, closer, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	loader := fwdl.Loader{Path: cfg.Firmware.Path, Name: cfg.Firmware.Name}
	if len(args) == 1 {
		loader.Path = args[0]
	}
	for _, dir := range cfg.Firmware.Dirs {
		loader.Search = append(loader.Search, os.DirFS(dir))
	}
	img, err := loader.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	progress := func(p fwdl.Progress) {
		fmt.Fprintf(out, "\r%-6s %3d%% (%d/%d)", p.Segment, p.Percent, p.Sent, p.Total)
	}
	if cfg.MQTT.Broker != "" {
		pub, err := dialProgress(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer pub.Close()
		local := progress
		progress = func(p fwdl.Progress) {
			local(p)
			if err := pub.publish(p); err != nil {
				logger.Warn("mqtt publish failed", slog.String("err", err.Error()))
			}
		}
	}

	dcfg := deviceConfig(cfg, logger)
	err = ecrnx.Bootstrap(ctx, dcfg.Transport, img,
		fwdl.WithLogger(logger), fwdl.WithProgress(progress), fwdl.WithChunkSize(cfg.Firmware.ChunkSize))
	fmt.Fprintln(out)
	if err != nil || !flagUp {
		return err
	}

	var dev ecrnx.Device
	if err := dev.Init(dcfg); err != nil {
		return err
	}
	defer dev.Deinit()
	if err := dev.Start(); err != nil {
		return err
	}
	logger.Info("bus up, interrupt to stop")
	<-ctx.Done()
	dev.Stop()
	return nil
}

func deviceConfig(cfg *config.Config, logger *slog.Logger) ecrnx.Config {
	dcfg := ecrnx.DefaultConfig()
	dcfg.Logger = logger
	dcfg.Transport = transport.Config{
		Device:     cfg.Transport.Device,
		Baud:       cfg.Transport.Baud,
		AckTimeout: cfg.Transport.AckTimeout(),
	}
	dcfg.DMA = &ipc.HostDMA{Limit: cfg.IPC.DMALimit}
	dcfg.SharedRAMSize = cfg.IPC.SharedRAMSize
	dcfg.RadarElems = cfg.IPC.RadarElems
	dcfg.RadarChains = cfg.Radar.Chains
	dcfg.RxBufs = cfg.IPC.RxBufs
	dcfg.RxBufSize = cfg.IPC.RxBufSize
	dcfg.RadarAnalyzer = func(chain int, pulses []radar.Pulse) {
		logger.Debug("radar pulses", slog.Int("chain", chain), slog.Int("n", len(pulses)))
	}
	return dcfg
}
