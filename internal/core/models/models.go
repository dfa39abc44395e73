package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Student is an enrolled identity: a unique display name and one reference
// embedding, stored as the fixed little-endian float64 encoding from
// internal/core/embedding.
type Student struct {
	gorm.Model
	Name      string             `gorm:"uniqueIndex;not null"`
	Embedding []byte             `gorm:"not null"`
	Records   []AttendanceRecord `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE;"`
}

// AttendanceRecord is the first match of a student on a calendar date. The
// composite unique index is what makes the once-per-day rule hold under
// concurrent recognition requests.
type AttendanceRecord struct {
	gorm.Model
	StudentID  uint           `gorm:"not null;uniqueIndex:idx_attendance_student_date"`
	Date       string         `gorm:"not null;uniqueIndex:idx_attendance_student_date"` // calendar date, YYYY-MM-DD
	Timestamp  time.Time      `gorm:"index"`
	SourceData datatypes.JSON `gorm:"type:json;null"` // capture metadata from the client
	Student    Student        `gorm:"foreignKey:StudentID"`
}

// Statistics summarizes the stored data for the dashboard.
type Statistics struct {
	StudentCount    int64     `json:"student_count"`
	TotalRecords    int64     `json:"total_records"`
	PresentToday    int64     `json:"present_today"`
	LatestTimestamp time.Time `json:"latest_timestamp"`
}
