package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tapelens/internal/store"
	"tapelens/internal/store/importlog"
	"tapelens/internal/template"
	"tapelens/internal/trades"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Entry time,Exit time,Instrument,Market pos.,Qty,Entry price,Profit,
2024-01-02 09:31:00,2024-01-02 09:45:00,ES 03-24,Long,1,4500.25,$125.50,
2024-01-02 10:00:00,2024-01-02 10:20:00,ES 03-24,Short,2,4503.00,($45.00),
`

func newTestService(t *testing.T) (*Service, *store.ResultStore, *importlog.Store) {
	t.Helper()
	registry, err := template.NewRegistry("")
	require.NoError(t, err)
	results, err := store.NewResultStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { results.Close() })
	logStore, err := importlog.NewStore(filepath.Join(t.TempDir(), "imports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { logStore.Close() })

	svc, err := NewService(Config{Templates: registry, Results: results, ImportLog: logStore})
	require.NoError(t, err)
	return svc, results, logStore
}

func TestImport(t *testing.T) {
	svc, results, logStore := newTestService(t)
	ctx := context.Background()

	bt, err := svc.Import(ctx, "orb-es.csv", []byte(sampleCSV), "", 50_000)
	require.NoError(t, err)
	assert.Equal(t, "orb-es", bt.Name)
	assert.Equal(t, "ninjatrader-v1", bt.Template)
	assert.Equal(t, 2, bt.Trades)
	assert.Equal(t, "ES 03-24", bt.Instruments)
	assert.InDelta(t, 50_000, bt.InitialCapital, 1e-9)
	assert.InDelta(t, 80.5, bt.Stats.TotalPnL, 1e-9)

	stored, err := results.GetBacktest(ctx, bt.ID)
	require.NoError(t, err)
	assert.Equal(t, bt.Checksum, stored.Checksum)

	entries, err := logStore.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, importlog.StatusOK, entries[0].Status)
	assert.Equal(t, 2, entries[0].Trades)
}

func TestImportDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Import(ctx, "a.csv", []byte(sampleCSV), "", 0)
	require.NoError(t, err)

	again, err := svc.Import(ctx, "b.csv", []byte(sampleCSV), "", 0)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, first.ID, again.ID)
}

func TestImportParseFailureLogged(t *testing.T) {
	svc, results, logStore := newTestService(t)
	ctx := context.Background()

	badCSV := "Entry time,Exit time,Instrument,Market pos.,Entry price,Profit\n"
	_, err := svc.Import(ctx, "bad.csv", []byte(badCSV), "", 0)
	var perr *trades.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, trades.ErrMissingColumn, perr.Kind)
	assert.Equal(t, trades.FieldQuantity, perr.Field)

	list, err := results.ListBacktests(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	entries, err := logStore.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, importlog.StatusFailed, entries[0].Status)
	assert.Equal(t, string(trades.ErrMissingColumn), entries[0].ErrorKind)
}

func TestImportUnknownTemplate(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Import(context.Background(), "a.csv", []byte(sampleCSV), "nope", 0)
	assert.Error(t, err)
}

func TestScanDir(t *testing.T) {
	svc, results, _ := newTestService(t)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.csv"), []byte(sampleCSV), 0o644))
	other := `Entry time,Exit time,Instrument,Market pos.,Qty,Entry price,Profit
2024-02-01 09:31:00,2024-02-01 09:45:00,NQ 03-24,Long,1,16000.00,$80.00
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.csv"), []byte(other), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.csv"), []byte("no,usable,header\n"), 0o644))

	require.NoError(t, svc.ScanDir(ctx, dir, ""))

	list, err := results.ListBacktests(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// 重新扫描不重复导入
	require.NoError(t, svc.ScanDir(ctx, dir, ""))
	list, err = results.ListBacktests(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
