package mock

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/provider"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
)

// WriteDataset materializes one session of synthetic data under dir in the
// layout provider.CSVProvider reads. Option files cover every strike the
// underlying touches that day plus pad strikes on each side.
func (s *SyntheticProvider) WriteDataset(ctx context.Context, dir, symbol, date, expiry string, pad int) (int, error) {
	layout := provider.NewCSVProvider(dir, s.loc)

	under, err := s.UnderlyingBars(symbol, date)
	if err != nil {
		return 0, err
	}
	if err := writeBars(layout.UnderlyingPath(symbol, date), under); err != nil {
		return 0, err
	}

	step := strategy.InstrumentClass(symbol).StrikeInterval()
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, b := range under {
		lo = math.Min(lo, b.Close)
		hi = math.Max(hi, b.Close)
	}
	first := strategy.ATMStrike(lo, strategy.InstrumentClass(symbol)) - pad*step
	last := strategy.ATMStrike(hi, strategy.InstrumentClass(symbol)) + pad*step

	files := 1
	for strike := first; strike <= last; strike += step {
		for _, right := range []models.Right{models.RightCall, models.RightPut} {
			req := provider.OptionBarsRequest{Symbol: symbol, Date: date, Expiry: expiry, Right: right, Strike: strike}
			bars, err := s.OptionBars(ctx, req)
			if err != nil {
				return files, err
			}
			if err := writeBars(layout.OptionPath(req), bars); err != nil {
				return files, err
			}
			files++
		}
	}
	return files, nil
}

func writeBars(path string, bars []models.PriceBar) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path) // #nosec G304 -- path is built from the output dir
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"datetime", "close"}); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{b.Timestamp.Format("2006-01-02 15:04:05"), strconv.FormatFloat(b.Close, 'f', 2, 64)}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
