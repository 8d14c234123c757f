package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/opensource-finance/harrier/internal/domain"
)

// BatchDigest computes a stable SHA-256 digest over a transaction batch.
// Transactions are canonicalized by ID before hashing, so two batches
// with the same transactions in different order produce the same digest.
func BatchDigest(txs []domain.Transaction) string {
	lines := make([]string, 0, len(txs))
	for _, tx := range txs {
		lines = append(lines, fmt.Sprintf("%s|%s|%s|%s|%d",
			tx.ID,
			tx.SenderID,
			tx.ReceiverID,
			strconv.FormatFloat(tx.Amount, 'f', -1, 64),
			tx.Timestamp.UTC().UnixMilli(),
		))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
