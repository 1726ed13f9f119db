package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "ecrnx.yaml")
	err := os.WriteFile(path, []byte(`
firmware:
  path: /tmp/fw.bin
transport:
  device: /dev/ttyACM1
  ackTimeoutMs: 500
radar:
  chains: [0, 1]
log:
  level: debug
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/fw.bin", cfg.Firmware.Path)
	require.Equal(t, "/dev/ttyACM1", cfg.Transport.Device)
	require.Equal(t, 115200, cfg.Transport.Baud, "unset fields keep defaults")
	require.Equal(t, int64(500e6), int64(cfg.Transport.AckTimeout()))
	require.Equal(t, []int{0, 1}, cfg.Radar.Chains)
}

func TestLoadUnknownField(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "ecrnx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  speed: 9\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ECRNX_TRANSPORT_DEVICE", "/dev/ecrnx0")
	t.Setenv("ECRNX_ACK_TIMEOUT_MS", "250")
	t.Setenv("ECRNX_LOG_LEVEL", "warn")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/dev/ecrnx0", cfg.Transport.Device)
	require.Equal(t, 250, cfg.Transport.AckTimeoutMs)

	t.Setenv("ECRNX_TRANSPORT_BAUD", "fast")
	_, err = Load("")
	require.Error(t, err)
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ECRNX_FIRMWARE_NAME=custom.bin\n"), 0o644))
	// godotenv does not override variables already present.
	t.Setenv("ECRNX_FIRMWARE_NAME", "")
	os.Unsetenv("ECRNX_FIRMWARE_NAME")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "custom.bin", cfg.Firmware.Name)
	os.Unsetenv("ECRNX_FIRMWARE_NAME")
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"chunk":   func(c *Config) { c.Firmware.ChunkSize = 513 },
		"device":  func(c *Config) { c.Transport.Device = "" },
		"timeout": func(c *Config) { c.Transport.AckTimeoutMs = 0 },
		"chain":   func(c *Config) { c.Radar.Chains = []int{2} },
		"level":   func(c *Config) { c.Log.Level = "loud" },
		"mqtt":    func(c *Config) { c.MQTT.Broker = "localhost:1883"; c.MQTT.Topic = "" },
		"rxsize":  func(c *Config) { c.IPC.RxBufSize = 0 },
	} {
		cfg := Default()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
