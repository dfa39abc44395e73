package dbstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"face-attendance-go/internal/core/embedding"
	"face-attendance-go/internal/core/gallery"
	"face-attendance-go/internal/core/ledger"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GalleryBackend persists the gallery as student rows with embedding blobs.
type GalleryBackend struct {
	repo repository.Repository
}

// NewGalleryBackend creates a database-backed gallery store.
func NewGalleryBackend(repo repository.Repository) *GalleryBackend {
	return &GalleryBackend{repo: repo}
}

// Load reads all students and decodes their embeddings. Rows with a corrupt
// blob are skipped with a warning rather than taking the whole gallery down.
func (b *GalleryBackend) Load() ([]gallery.Entry, error) {
	students, err := b.repo.GetStudents()
	if err != nil {
		return nil, err
	}

	entries := make([]gallery.Entry, 0, len(students))
	for _, s := range students {
		vec, err := embedding.Decode(s.Embedding)
		if err != nil {
			log.WithError(err).Warnf("Skipping student '%s' with invalid embedding blob", s.Name)
			continue
		}
		entries = append(entries, gallery.Entry{Name: s.Name, Embedding: vec})
	}
	return entries, nil
}

// Insert persists a new student.
func (b *GalleryBackend) Insert(name string, vec embedding.Vector) error {
	blob, err := embedding.Encode(vec)
	if err != nil {
		return err
	}

	student := &models.Student{Name: name, Embedding: blob}
	if err := b.repo.CreateStudent(student); err != nil {
		if isDuplicateKey(err) {
			return gallery.ErrDuplicateName
		}
		return fmt.Errorf("failed to persist student: %w", err)
	}
	return nil
}

// Delete removes a student by name.
func (b *GalleryBackend) Delete(name string) error {
	student, err := b.repo.GetStudentByName(name)
	if err != nil {
		return err
	}
	if student == nil {
		return gallery.ErrIdentityNotFound
	}
	return b.repo.DeleteStudent(student.ID)
}

// Rename changes the display name only; the embedding column is untouched.
func (b *GalleryBackend) Rename(oldName, newName string) error {
	student, err := b.repo.GetStudentByName(oldName)
	if err != nil {
		return err
	}
	if student == nil {
		return gallery.ErrIdentityNotFound
	}

	if err := b.repo.UpdateStudentName(student.ID, newName); err != nil {
		if isDuplicateKey(err) {
			return gallery.ErrDuplicateName
		}
		return fmt.Errorf("failed to rename student: %w", err)
	}
	return nil
}

// Ledger records attendance in the database. The composite unique index on
// (student_id, date) is the authoritative guard against duplicate same-day
// rows; the mutex merely keeps the common path to one check-then-insert at
// a time.
type Ledger struct {
	repo repository.Repository
	mu   sync.Mutex
}

// NewLedger creates a database-backed attendance ledger.
func NewLedger(repo repository.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Record marks the student present for the calendar date of now. Returns
// OutcomeAlreadyPresentToday when a record for that date exists.
func (l *Ledger) Record(name string, now time.Time, source []byte) (ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	student, err := l.repo.GetStudentByName(name)
	if err != nil {
		return 0, err
	}
	if student == nil {
		return 0, gallery.ErrIdentityNotFound
	}

	localNow := timezone.In(now)
	date := localNow.Format(ledger.DateLayout)

	present, err := l.repo.HasAttendance(student.ID, date)
	if err != nil {
		return 0, err
	}
	if present {
		return ledger.OutcomeAlreadyPresentToday, nil
	}

	record := &models.AttendanceRecord{
		StudentID: student.ID,
		Date:      date,
		Timestamp: localNow,
	}
	if len(source) > 0 {
		record.SourceData = datatypes.JSON(source)
	}

	if err := l.repo.CreateAttendance(record); err != nil {
		// Lost the race against a concurrent insert for the same day: the
		// unique index turns it into the idempotent outcome.
		if isDuplicateKey(err) {
			return ledger.OutcomeAlreadyPresentToday, nil
		}
		return 0, fmt.Errorf("failed to record attendance: %w", err)
	}

	log.WithFields(log.Fields{"name": name, "date": date}).Info("Attendance recorded")
	return ledger.OutcomeInserted, nil
}

// RecordsFor returns the attendance history for one student, oldest first.
func (l *Ledger) RecordsFor(name string) ([]ledger.Record, error) {
	student, err := l.repo.GetStudentByName(name)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, nil
	}

	rows, err := l.repo.GetAttendanceByStudent(student.ID)
	if err != nil {
		return nil, err
	}

	records := make([]ledger.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, ledger.Record{
			Name:      name,
			Date:      row.Date,
			Timestamp: row.Timestamp,
		})
	}
	return records, nil
}

// isDuplicateKey detects unique constraint violations. GORM translates them
// to ErrDuplicatedKey; the string check covers driver paths where the
// translation does not apply.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
