package dbstore

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"face-attendance-go/internal/core/embedding"
	"face-attendance-go/internal/core/gallery"
	"face-attendance-go/internal/core/ledger"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/util/timezone"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) repository.Repository {
	t.Helper()
	timezone.Initialize("UTC")

	dbFile := filepath.Join(t.TempDir(), "test.db")
	gormDB, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := gormDB.AutoMigrate(&models.Student{}, &models.AttendanceRecord{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return repository.NewSQLiteRepository(gormDB)
}

func testVec(first float64) embedding.Vector {
	v := make(embedding.Vector, embedding.Dimensions)
	v[0] = first
	return v
}

func TestGalleryBackendCRUD(t *testing.T) {
	backend := NewGalleryBackend(newTestRepo(t))

	if err := backend.Insert("Alice Smith", testVec(0.25)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := backend.Insert("Bob", testVec(0.5)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := backend.Insert("Alice Smith", testVec(0.9)); !errors.Is(err, gallery.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}

	entries, err := backend.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "Alice Smith" || entries[0].Embedding[0] != 0.25 {
		t.Errorf("unexpected first entry: %s / %v", entries[0].Name, entries[0].Embedding[0])
	}

	if err := backend.Rename("Alice Smith", "Alicia Smith"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if err := backend.Rename("Alicia Smith", "Bob"); !errors.Is(err, gallery.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName on rename collision, got %v", err)
	}
	if err := backend.Rename("Nobody", "Someone"); !errors.Is(err, gallery.ErrIdentityNotFound) {
		t.Errorf("expected ErrIdentityNotFound, got %v", err)
	}

	entries, err = backend.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if entries[0].Name != "Alicia Smith" {
		t.Errorf("expected renamed entry, got '%s'", entries[0].Name)
	}
	if entries[0].Embedding[0] != 0.25 {
		t.Error("rename changed the stored embedding")
	}

	if err := backend.Delete("Bob"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := backend.Delete("Bob"); !errors.Is(err, gallery.ErrIdentityNotFound) {
		t.Errorf("expected ErrIdentityNotFound on second delete, got %v", err)
	}
}

func TestGalleryBackendDeleteFreesName(t *testing.T) {
	backend := NewGalleryBackend(newTestRepo(t))

	if err := backend.Insert("Alice", testVec(0.1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := backend.Delete("Alice"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// The name must be reusable immediately after deletion.
	if err := backend.Insert("Alice", testVec(0.4)); err != nil {
		t.Fatalf("re-enrollment after delete failed: %v", err)
	}

	entries, err := backend.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after re-enrollment, got %d", len(entries))
	}
	if entries[0].Embedding[0] != 0.4 {
		t.Error("re-enrollment kept the old embedding")
	}
}

func TestLedgerOncePerDay(t *testing.T) {
	repo := newTestRepo(t)
	backend := NewGalleryBackend(repo)
	l := NewLedger(repo)

	if err := backend.Insert("Alice", testVec(0.1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	now := time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC)

	outcome, err := l.Record("Alice", now, nil)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if outcome != ledger.OutcomeInserted {
		t.Fatalf("expected OutcomeInserted, got %v", outcome)
	}

	// Second recognition the same day is a no-op.
	outcome, err = l.Record("Alice", now.Add(2*time.Hour), nil)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if outcome != ledger.OutcomeAlreadyPresentToday {
		t.Fatalf("expected OutcomeAlreadyPresentToday, got %v", outcome)
	}

	records, err := l.RecordsFor("Alice")
	if err != nil {
		t.Fatalf("RecordsFor failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 persisted record, got %d", len(records))
	}
	if records[0].Date != "2026-08-31" {
		t.Errorf("expected date 2026-08-31, got %s", records[0].Date)
	}
	// The stored timestamp is the first sighting, not the second.
	if !records[0].Timestamp.Equal(now) {
		t.Errorf("expected timestamp of first sighting %v, got %v", now, records[0].Timestamp)
	}
}

func TestLedgerNextDayInsertsAgain(t *testing.T) {
	repo := newTestRepo(t)
	backend := NewGalleryBackend(repo)
	l := NewLedger(repo)

	if err := backend.Insert("Alice", testVec(0.1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	day1 := time.Date(2026, 8, 31, 23, 50, 0, 0, time.UTC)
	day2 := day1.Add(20 * time.Minute) // crosses midnight

	for _, now := range []time.Time{day1, day2} {
		outcome, err := l.Record("Alice", now, nil)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if outcome != ledger.OutcomeInserted {
			t.Fatalf("expected OutcomeInserted at %v, got %v", now, outcome)
		}
	}

	records, err := l.RecordsFor("Alice")
	if err != nil {
		t.Fatalf("RecordsFor failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records across midnight, got %d", len(records))
	}
	if records[0].Date != "2026-08-31" || records[1].Date != "2026-09-01" {
		t.Errorf("unexpected dates: %s, %s", records[0].Date, records[1].Date)
	}
}

func TestLedgerUnknownStudent(t *testing.T) {
	l := NewLedger(newTestRepo(t))

	if _, err := l.Record("Nobody", time.Now(), nil); !errors.Is(err, gallery.ErrIdentityNotFound) {
		t.Errorf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestLedgerConcurrentRecords(t *testing.T) {
	repo := newTestRepo(t)
	backend := NewGalleryBackend(repo)
	l := NewLedger(repo)

	if err := backend.Insert("Alice", testVec(0.1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	const workers = 50
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	outcomes := make(chan ledger.Outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := l.Record("Alice", now, nil)
			if err != nil {
				t.Errorf("Record failed: %v", err)
				return
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	var inserted, alreadyPresent int
	for outcome := range outcomes {
		switch outcome {
		case ledger.OutcomeInserted:
			inserted++
		case ledger.OutcomeAlreadyPresentToday:
			alreadyPresent++
		}
	}

	if inserted != 1 {
		t.Errorf("expected exactly 1 insert, got %d", inserted)
	}
	if alreadyPresent != workers-1 {
		t.Errorf("expected %d already-present outcomes, got %d", workers-1, alreadyPresent)
	}

	records, err := l.RecordsFor("Alice")
	if err != nil {
		t.Fatalf("RecordsFor failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected exactly 1 persisted record, got %d", len(records))
	}
}
