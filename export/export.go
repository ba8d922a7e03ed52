// Package export writes the event log to a columnar Parquet file for
// offline analysis and long-term archival, independent of replaying the
// log itself.
package export

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"icusdprotocol/core/eventlog"
)

// row is the on-disk Parquet schema: one row per event-log record, with
// the decoded event's payload carried as JSON text rather than exploded
// into per-event-type columns, since the log mixes many event shapes in a
// single sequence.
type row struct {
	Index     int64  `parquet:"name=idx, type=INT64"`
	PrevHash  string `parquet:"name=prev_hash, type=UTF8"`
	Hash      string `parquet:"name=hash, type=UTF8"`
	Timestamp int64  `parquet:"name=timestamp, type=INT64"`
	EventType string `parquet:"name=event_type, type=UTF8"`
	VaultID   int64  `parquet:"name=vault_id, type=INT64"`
	HasVault  bool   `parquet:"name=has_vault_id, type=BOOLEAN"`
	Payload   string `parquet:"name=payload_json, type=UTF8"`
}

// Export walks every record of log via dec and writes it to path as a
// Snappy-compressed Parquet file, one row group, for an operator to load
// into a data warehouse or analysis notebook.
func Export(log *eventlog.Log, dec eventlog.Decoder, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet file: %w", err)
	}

	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(row), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	writeErr := log.Range(0, log.Len(), dec, func(rec eventlog.Record) error {
		payload, err := json.Marshal(rec.Event)
		if err != nil {
			return fmt.Errorf("export: encode event at index %d: %w", rec.Index, err)
		}
		r := &row{
			Index:     int64(rec.Index),
			PrevHash:  hex.EncodeToString(rec.PrevHash[:]),
			Hash:      hex.EncodeToString(rec.Hash[:]),
			Timestamp: rec.Timestamp,
			EventType: rec.Event.EventType(),
			Payload:   string(payload),
		}
		if vaultID, ok := eventlog.VaultIDOf(rec.Event); ok {
			r.VaultID = int64(vaultID)
			r.HasVault = true
		}
		return pw.Write(r)
	})
	if writeErr != nil {
		pw.WriteStop()
		file.Close()
		return writeErr
	}

	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: flush parquet: %w", err)
	}
	return file.Close()
}
