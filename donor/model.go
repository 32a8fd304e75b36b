package donor

import (
	"strings"
	"time"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/opt"
)

// Model is the audit model name for donor registrations.
const Model = "DonorRegistration"

// Status is the confirmation state of a registration.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusRejected:
		return st, nil
	}
	return "", derrors.Validation("invalid status %q", s)
}

// Record is a registration as stored. PII fields hold ciphertext; the
// *Index fields hold blind indexes for exact search.
type Record struct {
	ID                         int64     `json:"id"`
	UserID                     int64     `json:"userId"`
	DonorNameFirst             string    `json:"donorNameFirst"`
	DonorNameFirstIndex        string    `json:"donorNameFirstIndex,omitempty"`
	DonorNameLast              string    `json:"donorNameLast"`
	DonorNameLastIndex         string    `json:"donorNameLastIndex,omitempty"`
	DonorSex                   string    `json:"donorSex"`
	DonorDateOfBirth           string    `json:"donorDateOfBirth,omitempty"`
	DonorSSN                   string    `json:"donorSSN,omitempty"`
	DonorSSNIndex              string    `json:"donorSSNIndex,omitempty"`
	DonorEmail                 string    `json:"donorEmail"`
	DonorStateOfResidence      string    `json:"donorStateOfResidence"`
	ReasonForTest              string    `json:"reasonForTest,omitempty"`
	TestingAuthority           string    `json:"testingAuthority,omitempty"`
	ServiceID                  string    `json:"serviceId,omitempty"`
	AccountNo                  string    `json:"accountNo,omitempty"`
	PanelID                    string    `json:"panelId"`
	RegistrationExpirationDate time.Time `json:"registrationExpirationDate"`
	LabcorpRegistrationNumber  string    `json:"labcorpRegistrationNumber"`
	Status                     Status    `json:"status"`
	RejectReason               string    `json:"rejectReason,omitempty"`
	IsDelete                   bool      `json:"isDelete"`
	IsActive                   bool      `json:"isActive"`
	SplitSpecimenRequested     bool      `json:"splitSpecimenRequested"`
	CreatedBy                  int64     `json:"createdBy"`
	UpdatedBy                  int64     `json:"updatedBy"`
	CreatedByIP                string    `json:"createdByIP"`
	UpdatedByIP                string    `json:"updatedByIP"`
	CreatedAt                  time.Time `json:"createdAt"`
	UpdatedAt                  time.Time `json:"updatedAt"`
}

// Registration is the decrypted view returned to callers.
type Registration struct {
	ID                         int64     `json:"id"`
	UserID                     int64     `json:"userId"`
	DonorNameFirst             string    `json:"donorNameFirst"`
	DonorNameLast              string    `json:"donorNameLast"`
	DonorSex                   string    `json:"donorSex"`
	DonorDateOfBirth           string    `json:"donorDateOfBirth"`
	DonorSSN                   string    `json:"donorSSN"`
	DonorEmail                 string    `json:"donorEmail"`
	DonorStateOfResidence      string    `json:"donorStateOfResidence"`
	ReasonForTest              string    `json:"reasonForTest"`
	TestingAuthority           string    `json:"testingAuthority"`
	ServiceID                  string    `json:"serviceId"`
	AccountNo                  string    `json:"accountNo"`
	PanelID                    string    `json:"panelId"`
	RegistrationExpirationDate time.Time `json:"registrationExpirationDate"`
	LabcorpRegistrationNumber  string    `json:"labcorpRegistrationNumber"`
	Status                     Status    `json:"status"`
	RejectReason               string    `json:"rejectReason,omitempty"`
	IsDelete                   bool      `json:"isDelete"`
	IsActive                   bool      `json:"isActive"`
	SplitSpecimenRequested     bool      `json:"splitSpecimenRequested"`
	CreatedBy                  int64     `json:"createdBy"`
	UpdatedBy                  int64     `json:"updatedBy"`
	CreatedByIP                string    `json:"createdByIP"`
	UpdatedByIP                string    `json:"updatedByIP"`
	CreatedAt                  time.Time `json:"createdAt"`
	UpdatedAt                  time.Time `json:"updatedAt"`
	PaymentStatus              string    `json:"paymentStatus,omitempty"`
}

// PaymentStatus annotations on listed registrations.
const (
	Paid   = "Paid"
	Unpaid = "Unpaid"
)

// CreateInput holds the plaintext fields of a new registration. Dates are
// ISO dates (YYYY-MM-DD) or RFC 3339 timestamps.
type CreateInput struct {
	UserID                     int64  `json:"userId"`
	DonorNameFirst             string `json:"donorNameFirst"`
	DonorNameLast              string `json:"donorNameLast"`
	DonorSex                   string `json:"donorSex"`
	DonorDateOfBirth           string `json:"donorDateOfBirth"`
	DonorSSN                   string `json:"donorSSN"`
	DonorEmail                 string `json:"donorEmail"`
	DonorStateOfResidence      string `json:"donorStateOfResidence"`
	ReasonForTest              string `json:"reasonForTest"`
	TestingAuthority           string `json:"testingAuthority"`
	ServiceID                  string `json:"serviceId"`
	AccountNo                  string `json:"accountNo"`
	PanelID                    string `json:"panelId"`
	RegistrationExpirationDate string `json:"registrationExpirationDate"`
	LabcorpRegistrationNumber  string `json:"labcorpRegistrationNumber"`
	Status                     Status `json:"status"`
	CreatedBy                  int64  `json:"createdBy"`
	UpdatedBy                  int64  `json:"updatedBy"`
}

// Patch is a partial update. Absent fields keep their stored value; a
// present empty string clears a nullable field.
type Patch struct {
	DonorNameFirst             opt.Value[string] `json:"donorNameFirst,omitzero"`
	DonorNameLast              opt.Value[string] `json:"donorNameLast,omitzero"`
	DonorSex                   opt.Value[string] `json:"donorSex,omitzero"`
	DonorDateOfBirth           opt.Value[string] `json:"donorDateOfBirth,omitzero"`
	DonorSSN                   opt.Value[string] `json:"donorSSN,omitzero"`
	DonorEmail                 opt.Value[string] `json:"donorEmail,omitzero"`
	DonorStateOfResidence      opt.Value[string] `json:"donorStateOfResidence,omitzero"`
	ReasonForTest              opt.Value[string] `json:"reasonForTest,omitzero"`
	TestingAuthority           opt.Value[string] `json:"testingAuthority,omitzero"`
	ServiceID                  opt.Value[string] `json:"serviceId,omitzero"`
	AccountNo                  opt.Value[string] `json:"accountNo,omitzero"`
	PanelID                    opt.Value[string] `json:"panelId,omitzero"`
	RegistrationExpirationDate opt.Value[string] `json:"registrationExpirationDate,omitzero"`
	LabcorpRegistrationNumber  opt.Value[string] `json:"labcorpRegistrationNumber,omitzero"`
	IsActive                   opt.Value[bool]   `json:"isActive,omitzero"`
	SplitSpecimenRequested     opt.Value[bool]   `json:"splitSpecimenRequested,omitzero"`
}

// ListParams selects a page of registrations.
type ListParams struct {
	Page    int
	PerPage int
	Search  string
	Status  string
}

// Page is one page of a listing.
type Page struct {
	Data        []Registration `json:"data"`
	Total       int            `json:"total"`
	CurrentPage int            `json:"currentPage"`
	LastPage    int            `json:"lastPage"`
	PerPage     int            `json:"perPage"`
}

// ConfirmRequest carries the plaintext fields sent to the laboratory.
type ConfirmRequest struct {
	DonorNameFirst             string `json:"donorNameFirst"`
	DonorNameLast              string `json:"donorNameLast"`
	DonorSex                   string `json:"donorSex"`
	DonorDateOfBirth           string `json:"donorDateOfBirth"`
	DonorSSN                   string `json:"donorSSN"`
	DonorStateOfResidence      string `json:"donorStateOfResidence"`
	PanelID                    string `json:"panelId"`
	AccountNumber              string `json:"accountNumber"`
	TestingAuthority           string `json:"testingAuthority"`
	RegistrationExpirationDate string `json:"registrationExpirationDate"`
	DonorReasonForTest         string `json:"donorReasonForTest"`
}

// ConfirmResult is the laboratory's answer to a confirmation.
type ConfirmResult struct {
	Success                   bool   `json:"success"`
	LabcorpRegistrationNumber string `json:"labcorpRegistrationNumber"`
}

var dateLayouts = []string{"2006-01-02", time.RFC3339Nano, "2006-01-02T15:04:05"}

// ParseDate reads an ISO date or timestamp and returns midnight UTC of
// that calendar day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, derrors.Validation("invalid date %q", s)
}
