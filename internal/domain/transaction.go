package domain

import (
	"time"
)

// TimestampLayout is the wire format for transaction timestamps.
// Values are naive and always interpreted as UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// Transaction is a single validated money transfer between two accounts.
// The engine assumes the input contract has already been enforced at the
// ingest boundary: positive amount, well-formed timestamp, unique ID.
type Transaction struct {
	// ID is unique within a batch.
	ID string `json:"transaction_id"`

	// Parties. SenderID may equal ReceiverID (self-loop); such edges are
	// retained but can never form a cycle.
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`

	// Amount is strictly positive.
	Amount float64 `json:"amount"`

	// Timestamp has millisecond resolution, UTC.
	Timestamp time.Time `json:"timestamp"`
}

// TransactionRequest is the API payload shape for a single transaction.
type TransactionRequest struct {
	TransactionID string  `json:"transaction_id"`
	SenderID      string  `json:"sender_id"`
	ReceiverID    string  `json:"receiver_id"`
	Amount        float64 `json:"amount"`
	Timestamp     string  `json:"timestamp"`
}

// ToTransaction converts a request to a Transaction domain object.
// The timestamp string is parsed as UTC per the input contract.
func (r *TransactionRequest) ToTransaction() (*Transaction, error) {
	ts, err := time.ParseInLocation(TimestampLayout, r.Timestamp, time.UTC)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ID:         r.TransactionID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Amount:     r.Amount,
		Timestamp:  ts,
	}, nil
}
