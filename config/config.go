// Package config loads the host driver configuration from defaults, an
// optional YAML file, a .env file and ECRNX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the complete driver configuration.
type Config struct {
	Firmware  FirmwareConfig  `yaml:"firmware"`
	Transport TransportConfig `yaml:"transport"`
	IPC       IPCConfig       `yaml:"ipc"`
	Radar     RadarConfig     `yaml:"radar"`
	Log       LogConfig       `yaml:"log"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// FirmwareConfig locates the firmware image.
type FirmwareConfig struct {
	Path      string   `yaml:"path"`
	Name      string   `yaml:"name"`
	Dirs      []string `yaml:"dirs"`
	ChunkSize int      `yaml:"chunkSize"`
}

// TransportConfig configures the device transport.
type TransportConfig struct {
	Device       string `yaml:"device"`
	Baud         int    `yaml:"baud"`
	AckTimeoutMs int    `yaml:"ackTimeoutMs"`
}

// AckTimeout returns the acknowledgment timeout as a duration.
func (t TransportConfig) AckTimeout() time.Duration {
	return time.Duration(t.AckTimeoutMs) * time.Millisecond
}

// IPCConfig sizes the buffers shared with the device.
type IPCConfig struct {
	SharedRAMSize int `yaml:"sharedRamSize"`
	DMALimit      int `yaml:"dmaLimit"`
	RadarElems    int `yaml:"radarElems"`
	RxBufs        int `yaml:"rxBufs"`
	RxBufSize     int `yaml:"rxBufSize"`
}

// RadarConfig selects the chains with pulse detection enabled.
type RadarConfig struct {
	Chains []int `yaml:"chains"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	// File, if set, receives logs with size based rotation.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// MQTTConfig configures download progress publishing. Disabled when Broker is empty.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientId"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Firmware: FirmwareConfig{
			Name:      "ecrnx/firmware.bin",
			Dirs:      []string{"/lib/firmware/updates", "/lib/firmware"},
			ChunkSize: 512,
		},
		Transport: TransportConfig{
			Device:       "/dev/ttyUSB0",
			Baud:         115200,
			AckTimeoutMs: 2000,
		},
		IPC: IPCConfig{
			SharedRAMSize: 4096,
			RadarElems:    4,
			RxBufs:        8,
			RxBufSize:     2048,
		},
		Radar: RadarConfig{Chains: []int{0}},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		MQTT: MQTTConfig{
			Topic:    "ecrnx/fwdl/progress",
			ClientID: "ecrnxctl",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	strVars := []struct {
		key string
		dst *string
	}{
		{"ECRNX_FIRMWARE_PATH", &cfg.Firmware.Path},
		{"ECRNX_FIRMWARE_NAME", &cfg.Firmware.Name},
		{"ECRNX_TRANSPORT_DEVICE", &cfg.Transport.Device},
		{"ECRNX_LOG_LEVEL", &cfg.Log.Level},
		{"ECRNX_LOG_FILE", &cfg.Log.File},
		{"ECRNX_MQTT_BROKER", &cfg.MQTT.Broker},
		{"ECRNX_MQTT_TOPIC", &cfg.MQTT.Topic},
	}
	for _, v := range strVars {
		if s, ok := os.LookupEnv(v.key); ok {
			*v.dst = s
		}
	}
	intVars := []struct {
		key string
		dst *int
	}{
		{"ECRNX_TRANSPORT_BAUD", &cfg.Transport.Baud},
		{"ECRNX_ACK_TIMEOUT_MS", &cfg.Transport.AckTimeoutMs},
		{"ECRNX_CHUNK_SIZE", &cfg.Firmware.ChunkSize},
	}
	for _, v := range intVars {
		s, ok := os.LookupEnv(v.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("config: %s: %w", v.key, err)
		}
		*v.dst = n
	}
	return nil
}

// Validate checks the configuration for consistency.
func (cfg *Config) Validate() error {
	if cfg.Firmware.Path == "" && cfg.Firmware.Name == "" {
		return errors.New("firmware path or name required")
	}
	if cfg.Firmware.ChunkSize <= 0 || cfg.Firmware.ChunkSize > 512 {
		return fmt.Errorf("firmware chunk size %d outside [1, 512]", cfg.Firmware.ChunkSize)
	}
	if cfg.Transport.Device == "" {
		return errors.New("transport device required")
	}
	if cfg.Transport.AckTimeoutMs <= 0 {
		return fmt.Errorf("ack timeout %dms must be positive", cfg.Transport.AckTimeoutMs)
	}
	if cfg.IPC.SharedRAMSize <= 0 {
		return fmt.Errorf("shared RAM size %d must be positive", cfg.IPC.SharedRAMSize)
	}
	if cfg.IPC.RadarElems < 0 || cfg.IPC.RxBufs < 0 || cfg.IPC.RxBufSize < 0 {
		return errors.New("negative buffer count or size")
	}
	if cfg.IPC.RxBufs > 0 && cfg.IPC.RxBufSize == 0 {
		return errors.New("rx buffer size required")
	}
	for _, c := range cfg.Radar.Chains {
		if c < 0 || c > 1 {
			return fmt.Errorf("radar chain %d out of range [0, 1]", c)
		}
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic == "" {
		return errors.New("mqtt topic required when broker is set")
	}
	return nil
}
