package backtest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// csvHeader is the expected column order of candle files
var csvHeader = []string{"timestamp", "symbol", "open", "high", "low", "close", "volume"}

// LoadFile reads candles from a .csv or .json file and groups them into one
// chronologically sorted series per symbol
func LoadFile(path string) (map[string]Series, error) {
	file, err := os.Open(path) // #nosec G304 -- operator supplied data file
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer file.Close()

	var candles []*Candlestick
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		candles, err = ReadCSV(file)
	case ".json":
		candles, err = ReadJSON(file)
	default:
		return nil, fmt.Errorf("unsupported data file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("file", path).
		Int("candles", len(candles)).
		Msg("Loaded historical data")

	return GroupBySymbol(candles), nil
}

// ReadCSV parses rows of timestamp,symbol,open,high,low,close,volume.
// The timestamp is either Unix seconds or RFC3339. Malformed rows are skipped.
func ReadCSV(r io.Reader) ([]*Candlestick, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < len(csvHeader) {
		return nil, fmt.Errorf("invalid CSV header: expected %v, got %v", csvHeader, header)
	}

	var candles []*Candlestick
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record at line %d: %w", line, err)
		}

		candle, err := parseRecord(record)
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("Skipping CSV record")
			continue
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

func parseRecord(record []string) (*Candlestick, error) {
	if len(record) < len(csvHeader) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(csvHeader), len(record))
	}

	var timestamp time.Time
	if unix, err := strconv.ParseInt(record[0], 10, 64); err == nil {
		timestamp = time.Unix(unix, 0).UTC()
	} else if parsed, err := time.Parse(time.RFC3339, record[0]); err == nil {
		timestamp = parsed
	} else {
		return nil, fmt.Errorf("invalid timestamp %q", record[0])
	}

	values := make([]float64, 5)
	for i := range values {
		v, err := strconv.ParseFloat(record[i+2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", csvHeader[i+2], record[i+2])
		}
		values[i] = v
	}

	return &Candlestick{
		Timestamp: timestamp,
		Symbol:    record[1],
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// ReadJSON parses an array of candles or an object with a "candles" array
func ReadJSON(r io.Reader) ([]*Candlestick, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON: %w", err)
	}

	var candles []*Candlestick
	if err := json.Unmarshal(data, &candles); err == nil {
		return candles, nil
	}

	var wrapper struct {
		Candles []*Candlestick `json:"candles"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse JSON (tried both array and object formats): %w", err)
	}
	return wrapper.Candles, nil
}

// GroupBySymbol splits candles into per-symbol series sorted by timestamp
func GroupBySymbol(candles []*Candlestick) map[string]Series {
	grouped := make(map[string]Series)
	for _, c := range candles {
		if c == nil || c.Symbol == "" {
			continue
		}
		grouped[c.Symbol] = append(grouped[c.Symbol], c)
	}
	for _, series := range grouped {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
	}
	return grouped
}
