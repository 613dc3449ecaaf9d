// Package archive implements the NDJSON cold-archive file format spec.md
// §6 defines for expired events: one event JSON object per line in ts
// ascending order, one file per (tenant_id, project_id, date), with a
// trailing {"_checksum": "<hex-sha256-of-preceding-bytes>"} line. The
// archive store itself (object storage, filesystem, whatever holds the
// files) is out of scope per spec.md — this package only reads and writes
// the bytes of one file, against any io.Writer/io.Reader.
package archive

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tbenself/clawops/pkg/eventlog"
)

// checksumLine is the trailing NDJSON record.
type checksumLine struct {
	Checksum string `json:"_checksum"`
}

// WriteFile writes events (already ts-ascending; callers are responsible
// for ordering, since archival happens per (tenant_id, project_id, date)
// partition from an already-sorted event-log query) as NDJSON followed by
// a trailing checksum line covering every preceding byte.
func WriteFile(w io.Writer, events []*eventlog.Event) error {
	hasher := sha256.New()
	mw := io.MultiWriter(w, hasher)

	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshaling event %s: %w", ev.ID, err)
		}
		if _, err := mw.Write(line); err != nil {
			return fmt.Errorf("writing event line: %w", err)
		}
		if _, err := mw.Write([]byte("\n")); err != nil {
			return fmt.Errorf("writing newline: %w", err)
		}
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	trailer, err := json.Marshal(checksumLine{Checksum: sum})
	if err != nil {
		return fmt.Errorf("marshaling checksum line: %w", err)
	}
	if _, err := w.Write(trailer); err != nil {
		return fmt.Errorf("writing checksum line: %w", err)
	}
	_, err = w.Write([]byte("\n"))
	return err
}

// ErrChecksumMismatch is returned by ReadFile when the trailing checksum
// does not match the preceding bytes — the archive file is truncated or
// corrupted and must not be trusted for replay.
var ErrChecksumMismatch = fmt.Errorf("archive: checksum mismatch")

// ReadFile reads and validates one archive file, returning its events in
// the order they appear (ts ascending, per the format's own invariant).
// It does not trust a file whose trailing checksum does not cover exactly
// the bytes preceding it.
func ReadFile(r io.Reader) ([]*eventlog.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var rawLines [][]byte
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		rawLines = append(rawLines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning archive: %w", err)
	}
	if len(rawLines) == 0 {
		return nil, fmt.Errorf("archive: empty file")
	}

	eventLines := rawLines[:len(rawLines)-1]
	trailerLine := rawLines[len(rawLines)-1]

	var trailer checksumLine
	if err := json.Unmarshal(trailerLine, &trailer); err != nil {
		return nil, fmt.Errorf("parsing checksum line: %w", err)
	}

	hasher := sha256.New()
	for _, line := range eventLines {
		hasher.Write(line)
		hasher.Write([]byte("\n"))
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if got != trailer.Checksum {
		return nil, ErrChecksumMismatch
	}

	events := make([]*eventlog.Event, 0, len(eventLines))
	for _, line := range eventLines {
		var ev eventlog.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parsing archived event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, nil
}
