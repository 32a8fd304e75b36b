package api

import (
	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/lab"
	"github.com/jmcleod/donorhub/payment"
	"github.com/jmcleod/donorhub/user"
)

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MessageResponse acknowledges an action that returns no resource.
type MessageResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"userId,omitempty"`
}

// CheckUserResponse is returned from GET /auth/check-user.
type CheckUserResponse struct {
	Exists bool `json:"exists"`
}

// ForgotPasswordRequest is the JSON body for POST /forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// VerifyOTPRequest is the JSON body for POST /verify-otp.
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// ResetPasswordRequest is the JSON body for POST /reset-password.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// ListUsersResponse is returned from GET /users.
type ListUsersResponse struct {
	Users []user.Profile `json:"users"`
}

// RejectRequest is the JSON body for POST /donors/donor-registration/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// StatusRequest is the JSON body for PUT /payments/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// WebhookResponse acknowledges a gateway delivery.
type WebhookResponse struct {
	Received bool `json:"received"`
	*payment.WebhookResult
}

// LocateSitesResponse is returned from GET /labcorp.
type LocateSitesResponse struct {
	Sites []lab.Site `json:"sites"`
}

// ListAuditLogsResponse is returned from GET /audit-logs.
type ListAuditLogsResponse struct {
	Entries []audit.Entry `json:"entries"`
	PaginationMeta
}
