package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotatingWriterShiftsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.log")

	w, err := newRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 16
	t.Cleanup(func() { _ = w.Close() })

	for _, line := range []string{"aaaaaaaaaa\n", "bbbbbbbbbb\n", "cccccccccc\n", "dddddddddd\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "dddddddddd\n", string(current))

	first, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	require.Equal(t, "cccccccccc\n", string(first))

	second, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	require.Equal(t, "bbbbbbbbbb\n", string(second))

	_, err = os.Stat(path + ".3")
	require.True(t, os.IsNotExist(err))
}

func TestLedgerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "tx", "ledger.log")
	logPath := filepath.Join(dir, "app.log")

	require.NoError(t, Init(Config{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{logPath},
		Ledger:      LedgerConfig{Enabled: true, Path: ledgerPath},
	}))
	t.Cleanup(func() { _ = Sync() })

	Ledger().Info("transaction submitted", "tx_hash", "0xabc", "kind", "mint")
	Named("workflow").Debug("state entered", "state", "minted")
	require.NoError(t, Sync())

	file, err := os.Open(ledgerPath)
	require.NoError(t, err)
	defer file.Close()

	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	require.Equal(t, "0xabc", entry["tx_hash"])
	require.Equal(t, "mint", entry["kind"])

	app, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(app), `"component":"workflow"`))
}

func TestInitRejectsLedgerWithoutPath(t *testing.T) {
	err := Init(Config{Ledger: LedgerConfig{Enabled: true}})
	require.Error(t, err)
	require.NoError(t, Init(Config{}))
}
