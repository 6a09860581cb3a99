package ledger

import (
	"context"
	"fmt"
	"sort"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Cells are stored as sent. Chat text never turns into a formula and the
// name, date and type columns read back exactly as written.
const valueInputOption = "RAW"

// SheetsBackend keeps the ledger in two tabs of one spreadsheet.
// Columns: Name, Date, Type, Minutes, Reason, Reported by, Batch, Recorded at.
type SheetsBackend struct {
	srv           *sheets.Service
	spreadsheetID string
	tabs          map[Destination]string
}

func NewSheetsBackend(ctx context.Context, credentialsFile, spreadsheetID, absenceSheet, eventsSheet string) (*SheetsBackend, error) {
	const op = "ledger.NewSheetsBackend"

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	b, err := newSheetsBackend(ctx, spreadsheetID, absenceSheet, eventsSheet, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func newSheetsBackend(ctx context.Context, spreadsheetID, absenceSheet, eventsSheet string, opts ...option.ClientOption) (*SheetsBackend, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &SheetsBackend{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		tabs: map[Destination]string{
			DestAbsences: absenceSheet,
			DestEvents:   eventsSheet,
		},
	}, nil
}

func (b *SheetsBackend) tab(dest Destination) (string, error) {
	name, ok := b.tabs[dest]
	if !ok || name == "" {
		return "", fmt.Errorf("no sheet configured for %s", dest)
	}
	return name, nil
}

func (b *SheetsBackend) Append(ctx context.Context, dest Destination, rows []Row) error {
	const op = "ledger.SheetsBackend.Append"

	tab, err := b.tab(dest)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = r.Values()
	}

	_, err = b.srv.Spreadsheets.Values.
		Append(b.spreadsheetID, tab+"!A:H", &sheets.ValueRange{Values: values}).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (b *SheetsBackend) DeleteMatching(ctx context.Context, dest Destination, keys []Key) ([]bool, error) {
	const op = "ledger.SheetsBackend.DeleteMatching"

	tab, err := b.tab(dest)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := b.srv.Spreadsheets.Values.Get(b.spreadsheetID, tab+"!A:C").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: read rows: %w", op, err)
	}

	rows := make([][3]string, len(resp.Values))
	for i, v := range resp.Values {
		for j := 0; j < 3 && j < len(v); j++ {
			rows[i][j] = fmt.Sprint(v[j])
		}
	}

	found, indexes := MatchRows(rows, keys)
	if len(indexes) == 0 {
		return found, nil
	}

	sheetID, err := b.sheetID(ctx, tab)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Deleting bottom-up keeps the remaining indexes valid within one batch.
	sort.Sort(sort.Reverse(sort.IntSlice(indexes)))

	requests := make([]*sheets.Request, 0, len(indexes))
	for _, idx := range indexes {
		requests = append(requests, &sheets.Request{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(idx),
					EndIndex:   int64(idx + 1),
				},
			},
		})
	}

	_, err = b.srv.Spreadsheets.BatchUpdate(b.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: delete rows: %w", op, err)
	}

	return found, nil
}

func (b *SheetsBackend) sheetID(ctx context.Context, tab string) (int64, error) {
	ss, err := b.srv.Spreadsheets.Get(b.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("load spreadsheet: %w", err)
	}

	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			return s.Properties.SheetId, nil
		}
	}

	return 0, fmt.Errorf("sheet %q not found", tab)
}

// MatchRows picks one row per key, preferring the most recently appended
// (lowest on the sheet) and never the same row twice. It returns which
// keys matched and the zero-based row indexes to remove.
func MatchRows(rows [][3]string, keys []Key) ([]bool, []int) {
	found := make([]bool, len(keys))
	taken := make(map[int]bool)
	var indexes []int

	for k, key := range keys {
		for i := len(rows) - 1; i >= 0; i-- {
			if taken[i] || !key.Matches(rows[i][0], rows[i][1], rows[i][2]) {
				continue
			}
			taken[i] = true
			found[k] = true
			indexes = append(indexes, i)
			break
		}
	}

	return found, indexes
}
