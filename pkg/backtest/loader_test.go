package backtest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `timestamp,symbol,open,high,low,close,volume
1700003600,BTCUSDT,101,102,100,101.5,10
2023-11-14T22:13:20Z,BTCUSDT,100,101,99,100.5,12
1700000000,ETHUSDT,2000,2010,1990,2005,50
garbage,BTCUSDT,1,1,1,1,1
1700007200,BTCUSDT,abc,1,1,1,1
`

func TestReadCSV(t *testing.T) {
	candles, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, candles, 3)

	assert.Equal(t, "BTCUSDT", candles[0].Symbol)
	assert.Equal(t, 101.5, candles[0].Close)
	assert.Equal(t, time.Unix(1700003600, 0).UTC(), candles[0].Timestamp)
	assert.Equal(t, 12.0, candles[1].Volume)
}

func TestReadCSVInvalidHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("timestamp,close\n1,2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid CSV header")
}

func TestReadJSONFormats(t *testing.T) {
	array := `[{"symbol":"BTCUSDT","timestamp":"2024-01-01T00:00:00Z","close":42000}]`
	candles, err := ReadJSON(strings.NewReader(array))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 42000.0, candles[0].Close)

	wrapped := `{"candles":[{"symbol":"ETHUSDT","timestamp":"2024-01-01T00:00:00Z","close":2300}]}`
	candles, err = ReadJSON(strings.NewReader(wrapped))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "ETHUSDT", candles[0].Symbol)

	_, err = ReadJSON(strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestGroupBySymbolSortsSeries(t *testing.T) {
	candles, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	grouped := GroupBySymbol(candles)
	require.Len(t, grouped, 2)

	btc := grouped["BTCUSDT"]
	require.Len(t, btc, 2)
	assert.True(t, btc[0].Timestamp.Before(btc[1].Timestamp))
	assert.Equal(t, 100.5, btc[0].Close)
	assert.Equal(t, "BTCUSDT", btc.Symbol())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "candles.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(sampleCSV), 0o600))
	grouped, err := LoadFile(csvPath)
	require.NoError(t, err)
	assert.Len(t, grouped["ETHUSDT"], 1)

	txtPath := filepath.Join(dir, "candles.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte(sampleCSV), 0o600))
	_, err = LoadFile(txtPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
