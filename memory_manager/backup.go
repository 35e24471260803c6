package memorymanager

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

var (
	ErrBackupRequired = errors.New("a backup writer is required before mutating the store")
)

// WriteBackup writes one JSON document per record.
func WriteBackup(w io.Writer, records []storer.Record) error {
	enc := json.NewEncoder(w)

	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write backup record %s: %w", rec.Id, err)
		}
	}

	return nil
}

func ReadBackup(r io.Reader) ([]storer.Record, error) {
	dec := json.NewDecoder(r)

	var records []storer.Record

	for {
		var rec storer.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read backup record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}

	return records, nil
}
