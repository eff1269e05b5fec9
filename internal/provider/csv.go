package provider

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// Accepted datetime layouts, most specific first.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
}

// CSVProvider reads bars from a directory tree:
//
//	<dir>/<symbol>/underlying/<date>.csv
//	<dir>/<symbol>/options/<expiry>/<date>_<right>_<strike>.csv
//
// Each file has a header row with at least "datetime" and "close" columns.
// Timestamps without an offset are read in the provider's location.
type CSVProvider struct {
	dir string
	loc *time.Location
}

// NewCSVProvider returns a provider rooted at dir. A nil loc means UTC.
func NewCSVProvider(dir string, loc *time.Location) *CSVProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVProvider{dir: dir, loc: loc}
}

// UnderlyingPath returns where the underlying bars for date live.
func (p *CSVProvider) UnderlyingPath(symbol, date string) string {
	return filepath.Join(p.dir, symbol, "underlying", date+".csv")
}

// OptionPath returns where one leg's bars live.
func (p *CSVProvider) OptionPath(req OptionBarsRequest) string {
	name := fmt.Sprintf("%s_%s_%d.csv", req.Date, req.Right, req.Strike)
	return filepath.Join(p.dir, req.Symbol, "options", req.Expiry, name)
}

// UnderlyingPrice implements MarketDataProvider.
func (p *CSVProvider) UnderlyingPrice(ctx context.Context, symbol string, at time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bars, err := p.readBars(p.UnderlyingPath(symbol, at.In(p.loc).Format(DateLayout)))
	if err != nil {
		return 0, err
	}
	i := models.FirstAtOrAfter(bars, at)
	if i < 0 {
		return 0, fmt.Errorf("%w: no %s underlying bar at or after %s",
			models.ErrDataGap, symbol, at.Format(time.DateTime))
	}
	return bars[i].Close, nil
}

// OptionBars implements MarketDataProvider.
func (p *CSVProvider) OptionBars(ctx context.Context, req OptionBarsRequest) ([]models.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Right.Valid() {
		return nil, fmt.Errorf("invalid option right %q", req.Right)
	}
	bars, err := p.readBars(p.OptionPath(req))
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", models.ErrDataGap, p.OptionPath(req))
	}
	return bars, nil
}

func (p *CSVProvider) readBars(path string) ([]models.PriceBar, error) {
	f, err := os.Open(path) // #nosec G304 -- path is built from the configured data dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", models.ErrDataGap, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrProviderUnavailable, path, err)
	}
	defer func() { _ = f.Close() }()

	bars, err := parseBars(f, p.loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	models.SortBars(bars)
	return bars, nil
}

// parseBars decodes datetime,close rows. Malformed content is a data gap:
// rereading the same file will not fix it.
func parseBars(r io.Reader, loc *time.Location) ([]models.PriceBar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", models.ErrDataGap, err)
	}
	timeCol, closeCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "datetime", "timestamp", "date":
			if timeCol < 0 {
				timeCol = i
			}
		case "close":
			closeCol = i
		}
	}
	if timeCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("%w: header must contain datetime and close columns", models.ErrDataGap)
	}

	var bars []models.PriceBar
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", models.ErrDataGap, line, err)
		}
		if len(rec) <= timeCol || len(rec) <= closeCol {
			return nil, fmt.Errorf("%w: line %d: too few columns", models.ErrDataGap, line)
		}
		ts, err := parseTimestamp(rec[timeCol], loc)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", models.ErrDataGap, line, err)
		}
		closePrice, err := strconv.ParseFloat(strings.TrimSpace(rec[closeCol]), 64)
		if err != nil || math.IsNaN(closePrice) || math.IsInf(closePrice, 0) {
			return nil, fmt.Errorf("%w: line %d: bad close %q", models.ErrDataGap, line, rec[closeCol])
		}
		bars = append(bars, models.PriceBar{Timestamp: ts, Close: closePrice})
	}
	return bars, nil
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

var _ MarketDataProvider = (*CSVProvider)(nil)
