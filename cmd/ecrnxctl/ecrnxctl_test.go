package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/soypat/ecrnx/fwdl"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCRC8Cmd(t *testing.T) {
	require.Equal(t, "0xa2\n", run(t, "crc8", "31 32 33 34 35 36 37 38 39"))
	require.Equal(t, "0x31\n", run(t, "crc8", "01"))
}

func TestPackCmd(t *testing.T) {
	dir := t.TempDir()
	var names []string
	for i, data := range []string{"ilm-code", "dlm", "iram0"} {
		name := filepath.Join(dir, []string{"ilm.bin", "dlm.bin", "iram0.bin"}[i])
		require.NoError(t, os.WriteFile(name, []byte(data), 0o644))
		names = append(names, name)
	}
	out := filepath.Join(dir, "fw.bin")
	listing := run(t, append([]string{"pack", "-o", out, "--version", "7"}, names...)...)
	require.Contains(t, listing, "len=8")

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	img, err := fwdl.ParseImage(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(7), img.Version)
	require.Equal(t, "iram0", string(img.Segments[2].Data))
}
