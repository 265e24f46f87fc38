package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ratchetBot/internal/domain"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

var tradeHeader = []string{"symbol", "entry_index", "exit_index", "entry_time", "exit_time", "entry_price", "exit_price", "quantity", "multiplier", "return_pct"}

// WriteKlinesToCSV writes klines to filename, creating parent directories as needed.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	file, err := create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteKlines(file, klines)
}

// WriteKlines writes a header line followed by one row per kline.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(klineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		if err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			formatFloat(k.Open),
			formatFloat(k.High),
			formatFloat(k.Low),
			formatFloat(k.Close),
			formatFloat(k.Volume),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadKlinesFromCSV loads klines written by WriteKlinesToCSV.
func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadKlines(file)
}

// ReadKlines parses kline rows, oldest first as written. The header line is required.
func ReadKlines(r io.Reader) ([]*domain.Kline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(klineHeader)

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("kline csv is empty")
		}
		return nil, err
	}

	var klines []*domain.Kline
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		k, err := parseKline(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(rec []string) (*domain.Kline, error) {
	openTime, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return nil, fmt.Errorf("open_time: %w", err)
	}
	closeTime, err := time.Parse(time.RFC3339, rec[1])
	if err != nil {
		return nil, fmt.Errorf("close_time: %w", err)
	}
	var vals [5]float64
	for i := range vals {
		v, err := strconv.ParseFloat(rec[4+i], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", klineHeader[4+i], err)
		}
		vals[i] = v
	}
	return &domain.Kline{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Symbol:    rec[2],
		Interval:  rec[3],
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// WriteTradesToCSV writes simulated trades to filename. klines, when given, are the series the
// trades were simulated on and supply the entry and exit timestamps.
func WriteTradesToCSV(trades []domain.RealizedTrade, klines []*domain.Kline, filename string) error {
	file, err := create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteTrades(file, trades, klines)
}

// WriteTrades writes a header line followed by one row per trade. Open trades have an empty
// exit index and exit time.
func WriteTrades(w io.Writer, trades []domain.RealizedTrade, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		exitIndex, exitTime := "", ""
		if t.ExitIndex != nil {
			exitIndex = strconv.Itoa(*t.ExitIndex)
			exitTime = candleTime(klines, *t.ExitIndex, true)
		}
		if err := writer.Write([]string{
			t.Symbol,
			strconv.Itoa(t.EntryIndex),
			exitIndex,
			candleTime(klines, t.EntryIndex, false),
			exitTime,
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Quantity),
			strconv.FormatFloat(t.Multiplier, 'f', 6, 64),
			strconv.FormatFloat(t.ReturnPct(), 'f', 4, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func candleTime(klines []*domain.Kline, i int, closing bool) string {
	if i < 0 || i >= len(klines) || klines[i] == nil {
		return ""
	}
	if closing {
		return klines[i].CloseTime.UTC().Format(time.RFC3339)
	}
	return klines[i].OpenTime.UTC().Format(time.RFC3339)
}

func create(filename string) (*os.File, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return os.Create(filename)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
