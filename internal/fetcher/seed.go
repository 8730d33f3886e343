package fetcher

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-resolver/internal/model"
)

// Header aliases recognised for each seed column, compared case-insensitively
// after trimming.
var (
	symbolHeaders    = []string{"symbol", "ticker", "ticker_symbol"}
	nameHeaders      = []string{"name", "company_name", "company", "security"}
	partitionHeaders = []string{"partition", "date", "as_of"}
)

// SeedOptions configures ReadSeeds.
type SeedOptions struct {
	HTTP  HTTPOptions
	Sheet XLSXOptions
	// Format forces "csv" or "xlsx"; empty picks by extension.
	Format string
}

type seedColumns struct {
	symbol, name, partition int
}

// ReadSeeds loads company seed records from a CSV or XLSX file or URL. The
// first row is a header. Rows without a symbol are skipped.
func ReadSeeds(ctx context.Context, src string, opts SeedOptions) ([]model.Record, error) {
	format := opts.Format
	if format == "" {
		format = seedFormat(src)
	}

	rc, err := Open(ctx, src, opts.HTTP)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	var rows [][]string
	switch format {
	case "csv":
		rows, err = ReadCSV(ctx, rc, CSVOptions{LazyQuotes: true})
	case "xlsx":
		rows, err = ReadXLSX(rc, opts.Sheet)
	default:
		return nil, eris.Errorf("fetcher: unsupported seed format %q", format)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read seeds from %s", src)
	}

	recs, skipped, err := RowsToRecords(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read seeds from %s", src)
	}
	zap.L().Info("fetcher: seeds loaded",
		zap.String("source", src),
		zap.Int("records", len(recs)),
		zap.Int("skipped", skipped),
	)
	return recs, nil
}

// RowsToRecords maps a header row plus data rows onto seed records. Returns
// the records and the number of rows skipped for lacking a symbol.
func RowsToRecords(rows [][]string) ([]model.Record, int, error) {
	if len(rows) == 0 {
		return nil, 0, eris.New("fetcher: seed file is empty")
	}
	cols, err := mapHeader(rows[0])
	if err != nil {
		return nil, 0, err
	}

	recs := make([]model.Record, 0, len(rows)-1)
	skipped := 0
	for _, row := range rows[1:] {
		sym := cell(row, cols.symbol)
		if sym == "" {
			skipped++
			continue
		}
		recs = append(recs, model.Record{
			Symbol:    sym,
			Name:      cell(row, cols.name),
			Partition: cell(row, cols.partition),
		})
	}
	return recs, skipped, nil
}

func mapHeader(header []string) (seedColumns, error) {
	cols := seedColumns{symbol: -1, name: -1, partition: -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		switch {
		case cols.symbol < 0 && contains(symbolHeaders, key):
			cols.symbol = i
		case cols.name < 0 && contains(nameHeaders, key):
			cols.name = i
		case cols.partition < 0 && contains(partitionHeaders, key):
			cols.partition = i
		}
	}
	if cols.symbol < 0 {
		return cols, eris.Errorf("fetcher: seed header %v has no symbol column", header)
	}
	return cols, nil
}

func seedFormat(src string) string {
	p := src
	if IsRemote(src) {
		// Ignore any query string.
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
		p = path.Base(p)
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".xlsx":
		return "xlsx"
	case ".csv", ".txt", "":
		return "csv"
	default:
		return strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
	}
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
