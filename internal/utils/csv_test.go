package utils

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratchetBot/internal/domain"
)

func testKlines() []*domain.Kline {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, 3)
	for i := range out {
		open := start.Add(time.Duration(i) * time.Hour)
		out[i] = &domain.Kline{
			OpenTime:  open,
			CloseTime: open.Add(time.Hour - time.Second),
			Symbol:    "SOLUSDC",
			Interval:  "1h",
			Open:      100 + float64(i),
			High:      102.5 + float64(i),
			Low:       99.25 + float64(i),
			Close:     101 + float64(i),
			Volume:    1234.5678,
		}
	}
	return out
}

func TestKlinesCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "SOLUSDC_1h.csv")
	klines := testKlines()

	require.NoError(t, WriteKlinesToCSV(klines, path))
	got, err := ReadKlinesFromCSV(path)
	require.NoError(t, err)
	assert.Equal(t, klines, got)
}

func TestReadKlines_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "kline csv is empty"},
		{"bad price", strings.Join(klineHeader, ",") + "\n2025-03-01T00:00:00Z,2025-03-01T00:59:59Z,SOLUSDC,1h,abc,1,1,1,1\n", "line 2: open"},
		{"bad time", strings.Join(klineHeader, ",") + "\nyesterday,2025-03-01T00:59:59Z,SOLUSDC,1h,1,1,1,1,1\n", "line 2: open_time"},
		{"short row", strings.Join(klineHeader, ",") + "\n2025-03-01T00:00:00Z,SOLUSDC\n", "wrong number of fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadKlines(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteTrades(t *testing.T) {
	exit := 1
	trades := []domain.RealizedTrade{
		{Symbol: "SOLUSDC", EntryPrice: 100, ExitPrice: 99, Quantity: 1, Multiplier: 0.99, EntryIndex: 0, ExitIndex: &exit},
		{Symbol: "SOLUSDC", EntryPrice: 102, ExitPrice: 103, Quantity: 1, Multiplier: 103.0 / 102.0, EntryIndex: 2},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteTrades(&buf, trades, testKlines()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(tradeHeader, ","), lines[0])
	assert.Equal(t, "SOLUSDC,0,1,2025-03-01T00:00:00Z,2025-03-01T01:59:59Z,100,99,1,0.990000,-1.0000", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "SOLUSDC,2,,2025-03-01T02:00:00Z,,102,103,1,1.009804,"))
}
