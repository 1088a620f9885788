package model

import "time"

type ReportType string

const (
	ReportRewards     ReportType = "rewards"
	ReportNotesDetail ReportType = "notes-detail"
	ReportMedia       ReportType = "media"
	ReportAttendance  ReportType = "attendance"
	ReportAssignments ReportType = "assignments"
	ReportFull        ReportType = "full-report"
)

func (r ReportType) Valid() bool {
	switch r {
	case ReportRewards, ReportNotesDetail, ReportMedia, ReportAttendance, ReportAssignments, ReportFull:
		return true
	}
	return false
}

// ReportToken is the persisted form of a report-access token. The raw token
// value is never stored; Hash identifies the record.
type ReportToken struct {
	Hash           string     `json:"-"`
	StudentID      string     `json:"studentId"`
	ReportType     ReportType `json:"reportType"`
	GuardianAccess bool       `json:"guardianAccess"`
	IssuedAt       time.Time  `json:"issuedAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
}

func (t ReportToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
