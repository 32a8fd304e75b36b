package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/user"
)

// Register handles POST /auth/register. Only administrators may choose a
// role; everyone else registers as USER.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeJSON[user.RegisterInput](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if !identityFrom(r.Context()).IsAdmin() {
		in.Role = access.RoleUser
	}
	ip := a.extractClientIP(r)
	profile, err := a.users.Register(r.Context(), in, ip)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditRegister, r, ip, profile.ID, slog.String("role", string(profile.Role)))
	writeJSON(w, http.StatusCreated, profile)
}

// Login handles POST /auth/login and returns a bearer token.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	ip := a.extractClientIP(r)
	sess, err := a.users.Login(r.Context(), req.Email, req.Password, ip)
	if err != nil {
		var locked *user.LockedError
		switch {
		case errors.As(err, &locked):
			a.audit.logFailure(AuditLoginRateLimited, r, ip, "locked out")
		default:
			a.audit.logFailure(AuditLoginFailure, r, ip, err.Error())
		}
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditLoginSuccess, r, ip, sess.ID)
	writeJSON(w, http.StatusOK, sess)
}

// Logout handles POST /auth/logout. Tokens are stateless; the client
// discards its copy.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	a.audit.logEvent(AuditLogout, r, a.extractClientIP(r), identityFrom(r.Context()).UserID)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// CheckUser handles GET /auth/check-user?email=.
func (a *API) CheckUser(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	profile, err := a.users.FindByEmail(r.Context(), email)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckUserResponse{Exists: profile != nil})
}

// ForgotPassword handles POST /forgot-password by emailing a reset code.
func (a *API) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ForgotPasswordRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := a.users.SendPasswordResetOTP(r.Context(), req.Email); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditPasswordResetRequested, r, a.extractClientIP(r))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "OTP sent to email"})
}

// VerifyOTP handles POST /verify-otp. The code stays valid.
func (a *API) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[VerifyOTPRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		writeError(w, http.StatusBadRequest, "email and otp are required")
		return
	}
	id, err := a.users.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "OTP verified", UserID: id})
}

// ResetPassword handles POST /reset-password, consuming the code.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ResetPasswordRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "email, otp and newPassword are required")
		return
	}
	ip := a.extractClientIP(r)
	if err := a.users.ResetPassword(r.Context(), req.Email, req.OTP, req.NewPassword, ip); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditPasswordReset, r, ip)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}

// ListUsers handles GET /users?role=. Administrators only.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.users.List(r.Context(), r.URL.Query().Get("role"), identityFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListUsersResponse{Users: users})
}

// GetUser handles GET /users/{id}.
func (a *API) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	profile, err := a.users.FindByID(r.Context(), id, identityFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateUser handles PUT /users/{id} with a partial update.
func (a *API) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	patch, ok := decodeJSON[user.Patch](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	profile, err := a.users.Update(r.Context(), id, patch, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
