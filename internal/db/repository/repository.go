package repository

import (
	"errors"

	"face-attendance-go/internal/core/models"

	"gorm.io/gorm"
)

// Repository defines the database operations used by the stores and handlers.
type Repository interface {
	// Student methods
	GetStudents() ([]models.Student, error)
	GetStudentByName(name string) (*models.Student, error)
	CreateStudent(student *models.Student) error
	DeleteStudent(id uint) error
	UpdateStudentName(id uint, newName string) error

	// Attendance methods
	CreateAttendance(record *models.AttendanceRecord) error
	HasAttendance(studentID uint, date string) (bool, error)
	GetAttendanceByStudent(studentID uint) ([]models.AttendanceRecord, error)

	// Statistics
	GetStatistics(today string) (models.Statistics, error)
}

// SQLiteRepository implements Repository on top of GORM.
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository creates a new SQLite repository instance.
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Student methods

// GetStudents returns all students in enrollment order.
func (r *SQLiteRepository) GetStudents() ([]models.Student, error) {
	var students []models.Student
	result := r.db.Order("id ASC").Find(&students)
	if result.Error != nil {
		return nil, result.Error
	}
	return students, nil
}

// GetStudentByName returns the student with the given name, or nil when the
// name is not enrolled.
func (r *SQLiteRepository) GetStudentByName(name string) (*models.Student, error) {
	var student models.Student
	result := r.db.Where("name = ?", name).First(&student)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &student, nil
}

// CreateStudent inserts a new student. The unique index on name rejects
// duplicate enrollments (gorm.ErrDuplicatedKey).
func (r *SQLiteRepository) CreateStudent(student *models.Student) error {
	return r.db.Create(student).Error
}

// DeleteStudent removes a student and, via the FK constraint, their
// attendance records. The delete is unscoped: a soft-deleted row would keep
// occupying the unique name index and block re-enrollment under the same
// name.
func (r *SQLiteRepository) DeleteStudent(id uint) error {
	return r.db.Unscoped().Delete(&models.Student{}, id).Error
}

// UpdateStudentName changes only the display name.
func (r *SQLiteRepository) UpdateStudentName(id uint, newName string) error {
	return r.db.Model(&models.Student{}).Where("id = ?", id).Update("name", newName).Error
}

// Attendance methods

// CreateAttendance inserts an attendance record. A duplicate (student, date)
// pair fails with gorm.ErrDuplicatedKey because of the composite unique
// index.
func (r *SQLiteRepository) CreateAttendance(record *models.AttendanceRecord) error {
	return r.db.Create(record).Error
}

// HasAttendance reports whether the student already has a record for the
// given calendar date.
func (r *SQLiteRepository) HasAttendance(studentID uint, date string) (bool, error) {
	var count int64
	result := r.db.Model(&models.AttendanceRecord{}).
		Where("student_id = ? AND date = ?", studentID, date).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// GetAttendanceByStudent returns all records for one student, oldest first.
func (r *SQLiteRepository) GetAttendanceByStudent(studentID uint) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	result := r.db.Where("student_id = ?", studentID).Order("date ASC").Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}

// Statistics

// GetStatistics returns dashboard statistics.
func (r *SQLiteRepository) GetStatistics(today string) (models.Statistics, error) {
	var stats models.Statistics

	if err := r.db.Model(&models.Student{}).Count(&stats.StudentCount).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&models.AttendanceRecord{}).Count(&stats.TotalRecords).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&models.AttendanceRecord{}).
		Where("date = ?", today).
		Count(&stats.PresentToday).Error; err != nil {
		return stats, err
	}

	var latest models.AttendanceRecord
	if err := r.db.Order("timestamp DESC").First(&latest).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, err
		}
	} else {
		stats.LatestTimestamp = latest.Timestamp
	}

	return stats, nil
}
