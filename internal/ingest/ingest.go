// Package ingest parses and validates transaction CSV files. The engine
// never sees a malformed row; any row error fails the whole batch.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Required CSV columns. Extra columns are permitted and ignored.
var requiredColumns = []string{
	"transaction_id", "sender_id", "receiver_id", "amount", "timestamp",
}

// RowError describes a single rejected row.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// BatchError aggregates every row rejection in a file.
type BatchError struct {
	Rows []*RowError
}

func (e *BatchError) Error() string {
	if len(e.Rows) == 1 {
		return e.Rows[0].Error()
	}
	return fmt.Sprintf("%d invalid rows (first: %s)", len(e.Rows), e.Rows[0])
}

// Messages returns one message per rejected row.
func (e *BatchError) Messages() []string {
	msgs := make([]string, len(e.Rows))
	for i, row := range e.Rows {
		msgs[i] = row.Error()
	}
	return msgs
}

// ReadFile parses the CSV file at path.
func ReadFile(path string) ([]domain.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transactions file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses transactions from CSV. The first record is a header; the
// five required columns may appear in any order among extras. Returns
// all transactions in file order, or a BatchError listing every bad row.
func Read(r io.Reader) ([]domain.Transaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty input: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var (
		txs  []domain.Transaction
		errs []*RowError
		seen = make(map[string]int)
		line = 1
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			errs = append(errs, &RowError{Line: line, Err: err})
			continue
		}

		tx, err := parseRow(record, cols)
		if err != nil {
			errs = append(errs, &RowError{Line: line, Err: err})
			continue
		}
		if prev, dup := seen[tx.ID]; dup {
			errs = append(errs, &RowError{
				Line: line,
				Err:  fmt.Errorf("duplicate transaction_id %q (first seen on line %d)", tx.ID, prev),
			})
			continue
		}
		seen[tx.ID] = line
		txs = append(txs, *tx)
	}

	if len(errs) > 0 {
		return nil, &BatchError{Rows: errs}
	}
	return txs, nil
}

// mapColumns resolves header names to field indices.
func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRow(record []string, cols map[string]int) (*domain.Transaction, error) {
	field := func(name string) (string, error) {
		idx := cols[name]
		if idx >= len(record) {
			return "", fmt.Errorf("missing field %s", name)
		}
		v := strings.TrimSpace(record[idx])
		if v == "" {
			return "", fmt.Errorf("empty field %s", name)
		}
		return v, nil
	}

	id, err := field("transaction_id")
	if err != nil {
		return nil, err
	}
	sender, err := field("sender_id")
	if err != nil {
		return nil, err
	}
	receiver, err := field("receiver_id")
	if err != nil {
		return nil, err
	}
	amountStr, err := field("amount")
	if err != nil {
		return nil, err
	}
	tsStr, err := field("timestamp")
	if err != nil {
		return nil, err
	}

	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amountStr, err)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be strictly positive, got %v", amount)
	}

	ts, err := time.ParseInLocation(domain.TimestampLayout, tsStr, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", tsStr, err)
	}

	return &domain.Transaction{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     amount,
		Timestamp:  ts,
	}, nil
}
