package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

var csvHeader = []string{"seq", "id", "at", "kind", "actor", "account", "from", "to", "role", "amount", "allowance_spent", "hash"}

// WriteCSV renders records for spreadsheet review.
func WriteCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, rec := range records {
		amount := ""
		if rec.Amount != nil {
			amount = rec.Amount.Dec()
		}
		row := []string{
			strconv.FormatUint(rec.Seq, 10),
			rec.ID.String(),
			rec.At.Format(time.RFC3339Nano),
			string(rec.Kind),
			rec.Actor.String(),
			rec.Account.String(),
			rec.From.String(),
			rec.To.String(),
			string(rec.Role),
			amount,
			strconv.FormatBool(rec.AllowanceSpent),
			rec.Hash.Hex(),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
