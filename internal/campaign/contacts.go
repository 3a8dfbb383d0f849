package campaign

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
)

// ParseRecipientsCSV reads recipients from CSV with a header row. Recognized
// columns are name, phone (or phone_number), company and notes; column order
// is free. Rows without a phone number are skipped.
func ParseRecipientsCSV(r io.Reader) ([]domain.Recipient, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	phoneCol, ok := index["phone"]
	if !ok {
		phoneCol, ok = index["phone_number"]
	}
	if !ok {
		return nil, fmt.Errorf("csv header has no phone column")
	}

	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var recipients []domain.Recipient
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		if phoneCol >= len(row) {
			continue
		}
		phone := strings.TrimSpace(row[phoneCol])
		if phone == "" {
			continue
		}
		recipients = append(recipients, domain.Recipient{
			Name:        field(row, "name"),
			PhoneNumber: phone,
			Company:     field(row, "company"),
			Notes:       field(row, "notes"),
		})
	}
	return recipients, nil
}

// ParseRecipientsJSON reads a JSON array of recipients
func ParseRecipientsJSON(r io.Reader) ([]domain.Recipient, error) {
	var recipients []domain.Recipient
	if err := json.NewDecoder(r).Decode(&recipients); err != nil {
		return nil, fmt.Errorf("failed to decode recipients json: %w", err)
	}

	out := recipients[:0]
	for _, recipient := range recipients {
		if strings.TrimSpace(recipient.PhoneNumber) == "" {
			continue
		}
		out = append(out, recipient)
	}
	return out, nil
}

// LoadRecipients reads recipients from a .csv or .json file
func LoadRecipients(path string) ([]domain.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipients file: %w", err)
	}
	defer f.Close()

	switch {
	case strings.HasSuffix(strings.ToLower(path), ".csv"):
		return ParseRecipientsCSV(f)
	case strings.HasSuffix(strings.ToLower(path), ".json"):
		return ParseRecipientsJSON(f)
	default:
		return nil, fmt.Errorf("unsupported recipients file type: %s", path)
	}
}
