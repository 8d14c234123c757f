package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const validCSV = `transaction_id,sender_id,receiver_id,amount,timestamp
t1,A,B,1500.00,2025-03-01 10:00:00
t2,B,C,1400.50,2025-03-01 11:00:00
`

func TestReadValid(t *testing.T) {
	txs, err := Read(strings.NewReader(validCSV))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	tx := txs[0]
	if tx.ID != "t1" || tx.SenderID != "A" || tx.ReceiverID != "B" || tx.Amount != 1500.00 {
		t.Errorf("tx = %+v", tx)
	}
	want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if !tx.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", tx.Timestamp, want)
	}
	if tx.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp location = %v, want UTC", tx.Timestamp.Location())
	}
}

func TestColumnOrderAndExtras(t *testing.T) {
	input := `memo,timestamp,amount,receiver_id,sender_id,transaction_id,branch
hello,2025-03-01 10:00:00,250,B,A,t1,west
`
	txs, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(txs) != 1 || txs[0].SenderID != "A" || txs[0].ReceiverID != "B" || txs[0].Amount != 250 {
		t.Errorf("txs = %+v", txs)
	}
}

func TestMissingColumn(t *testing.T) {
	input := `transaction_id,sender_id,amount,timestamp
t1,A,100,2025-03-01 10:00:00
`
	_, err := Read(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), "receiver_id") {
		t.Errorf("err = %v, want missing receiver_id", err)
	}
}

func TestRowRejections(t *testing.T) {
	tests := []struct {
		name string
		row  string
		want string
	}{
		{"zero amount", "t9,A,B,0,2025-03-01 10:00:00", "strictly positive"},
		{"negative amount", "t9,A,B,-5,2025-03-01 10:00:00", "strictly positive"},
		{"bad amount", "t9,A,B,ten,2025-03-01 10:00:00", "invalid amount"},
		{"bad timestamp", "t9,A,B,100,2025/03/01 10:00", "invalid timestamp"},
		{"empty sender", "t9,,B,100,2025-03-01 10:00:00", "empty field sender_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "transaction_id,sender_id,receiver_id,amount,timestamp\n" + tt.row + "\n"
			_, err := Read(strings.NewReader(input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
			var batch *BatchError
			if !errors.As(err, &batch) {
				t.Fatalf("err type = %T, want *BatchError", err)
			}
			if batch.Rows[0].Line != 2 {
				t.Errorf("line = %d, want 2", batch.Rows[0].Line)
			}
		})
	}
}

func TestDuplicateTransactionID(t *testing.T) {
	input := `transaction_id,sender_id,receiver_id,amount,timestamp
t1,A,B,100,2025-03-01 10:00:00
t1,C,D,200,2025-03-01 11:00:00
`
	_, err := Read(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), "duplicate transaction_id") {
		t.Errorf("err = %v, want duplicate rejection", err)
	}
}

func TestAnyBadRowFailsBatch(t *testing.T) {
	input := `transaction_id,sender_id,receiver_id,amount,timestamp
t1,A,B,100,2025-03-01 10:00:00
t2,B,C,-1,2025-03-01 11:00:00
t3,C,D,bad,2025-03-01 12:00:00
`
	txs, err := Read(strings.NewReader(input))
	if txs != nil {
		t.Errorf("partial batch returned: %+v", txs)
	}
	var batch *BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("err type = %T, want *BatchError", err)
	}
	if len(batch.Rows) != 2 {
		t.Errorf("row errors = %d, want 2", len(batch.Rows))
	}
}

func TestEmptyInput(t *testing.T) {
	if _, err := Read(strings.NewReader("")); err == nil {
		t.Error("expected header error on empty input")
	}

	// Header only is a valid, empty batch.
	txs, err := Read(strings.NewReader("transaction_id,sender_id,receiver_id,amount,timestamp\n"))
	if err != nil {
		t.Fatalf("header-only: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("got %d transactions, want 0", len(txs))
	}
}
