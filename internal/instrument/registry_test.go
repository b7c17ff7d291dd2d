package instrument

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInstruments = `
defaults:
  currency: USD
instruments:
  nq:
    exchange: GLOBEX
  es:
    label: ES_MINI
    roll:
      - {code: H, month: 3, cutoff_day: 15}
      - {code: M, month: 6, cutoff_day: 15}
      - {code: U, month: 9, cutoff_day: 15}
      - {code: Z, month: 12, cutoff_day: 15}
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRegistryLoadsAndMergesDefaults(t *testing.T) {
	r, err := NewRegistry(writeFile(t, sampleInstruments))
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Instruments, 2)

	nq := r.Lookup("NQ")
	assert.Equal(t, "FUT+CONTFUT", nq.SecType)
	assert.Equal(t, "GLOBEX", nq.Exchange)
	assert.Equal(t, "USD", nq.Currency)
	require.NotNil(t, nq.IncludeExpired)
	assert.True(t, *nq.IncludeExpired)

	spec, local, err := r.Spec("es", day(2016, 3, 18))
	require.NoError(t, err)
	assert.Equal(t, "ESM6", local)
	assert.Equal(t, "ES", spec.Symbol)
	assert.Equal(t, local, spec.LocalSymbol)
	assert.True(t, spec.IncludeExpired)
	assert.Equal(t, "ES_MINI", r.FileLabel("ES"))
	assert.Equal(t, "NQ", r.FileLabel("nq"))
}

func TestRegistryUnknownSymbolUsesDefaults(t *testing.T) {
	r, err := NewRegistry(writeFile(t, sampleInstruments))
	require.NoError(t, err)

	spec, local, err := r.Spec("YM", day(2016, 6, 23))
	require.NoError(t, err)
	assert.Equal(t, "YMU6", local)
	assert.Equal(t, "GLOBEX", spec.Exchange)
	assert.Equal(t, "USD", spec.Currency)
}

func TestRegistryRejectsInvalidFiles(t *testing.T) {
	_, err := NewRegistry(writeFile(t, "instruments:\n  nq:\n    exchnge: GLOBEX\n"))
	assert.Error(t, err)

	_, err = NewRegistry(writeFile(t, "instruments:\n  nq:\n    currency: usd\n"))
	assert.Error(t, err)

	_, err = NewRegistry(writeFile(t, "instruments:\n  nq:\n    roll:\n      - {code: A, month: 3, cutoff_day: 20}\n"))
	assert.Error(t, err)
}

func TestRegistryReloadKeepsOldSnapshotOnError(t *testing.T) {
	path := writeFile(t, sampleInstruments)
	r := &Registry{path: path}
	require.NoError(t, r.reload())

	require.NoError(t, os.WriteFile(path, []byte("instruments:\n  cl:\n    exchange: NYMEX\n"), 0o644))
	require.NoError(t, r.reload())
	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.Version)
	assert.Contains(t, snap.Instruments, "CL")

	require.NoError(t, os.WriteFile(path, []byte("instruments: [\n"), 0o644))
	assert.Error(t, r.reload())
	assert.Equal(t, int64(2), r.Snapshot().Version)
}

func TestLoadRegistryMissingFile(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	_, local, err := r.Spec("NQ", day(2017, 12, 21))
	require.NoError(t, err)
	assert.Equal(t, "NQH8", local)

	static := NewStaticRegistry(map[string]Definition{"ym": {Exchange: "ECBOT"}})
	assert.Equal(t, "ECBOT", static.Lookup("YM").Exchange)
}
