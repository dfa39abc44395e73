package filestore

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"face-attendance-go/internal/core/ledger"
	"face-attendance-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

const timestampLayout = "2006-01-02 15:04:05"

// CSVLedger appends attendance to a CSV file with the header
// "timestamp,date,name". The once-per-day rule is enforced by an in-memory
// seen set guarded by a mutex held across the whole check-and-append, so
// concurrent recognitions of the same student cannot produce duplicate rows.
type CSVLedger struct {
	path string

	mu   sync.Mutex
	seen map[string]bool // "name\x00date"
}

// NewCSVLedger opens (or creates) the attendance file and loads the existing
// rows into the duplicate-suppression set.
func NewCSVLedger(path string) (*CSVLedger, error) {
	l := &CSVLedger{path: path, seen: make(map[string]bool)}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("timestamp,date,name\n"), 0644); err != nil {
			return nil, fmt.Errorf("failed to create attendance file: %w", err)
		}
		return l, nil
	}

	rows, err := l.readAll()
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		l.seen[seenKey(r.Name, r.Date)] = true
	}

	log.Infof("Attendance log loaded with %d existing records", len(rows))
	return l, nil
}

func seenKey(name, date string) string {
	return name + "\x00" + date
}

// Record marks the student present for the calendar date of now. The source
// metadata is ignored by the CSV variant.
func (l *CSVLedger) Record(name string, now time.Time, _ []byte) (ledger.Outcome, error) {
	localNow := timezone.In(now)
	date := localNow.Format(ledger.DateLayout)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[seenKey(name, date)] {
		return ledger.OutcomeAlreadyPresentToday, nil
	}

	file, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open attendance file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{localNow.Format(timestampLayout), date, name}); err != nil {
		return 0, fmt.Errorf("failed to append attendance row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush attendance row: %w", err)
	}

	// Only mark as seen once the row is durably written.
	l.seen[seenKey(name, date)] = true

	log.WithFields(log.Fields{"name": name, "date": date}).Info("Attendance recorded")
	return ledger.OutcomeInserted, nil
}

// RecordsFor returns the attendance history for one student, sorted by date.
func (l *CSVLedger) RecordsFor(name string) ([]ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var records []ledger.Record
	for _, r := range rows {
		if r.Name == name {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })
	return records, nil
}

func (l *CSVLedger) readAll() ([]ledger.Record, error) {
	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open attendance file: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = 3

	// Skip the header.
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read attendance header: %w", err)
	}

	var records []ledger.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read attendance row: %w", err)
		}

		ts, err := time.ParseInLocation(timestampLayout, row[0], timezone.In(time.Now()).Location())
		if err != nil {
			log.Warnf("Skipping attendance row with invalid timestamp %q: %v", row[0], err)
			continue
		}
		records = append(records, ledger.Record{Timestamp: ts, Date: row[1], Name: row[2]})
	}
	return records, nil
}
