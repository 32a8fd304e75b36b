package user

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/util"
	"github.com/jmcleod/donorhub/notify"
)

const (
	resetCodeDigits = 6
	// ResetCodeTTL is how long a password reset code stays valid.
	ResetCodeTTL = 10 * time.Minute
)

// CodeStore keeps one pending password reset code per user, as a hash.
// Saving a code replaces any earlier one.
type CodeStore interface {
	Save(ctx context.Context, userID int64, hash string, expiresAt time.Time) error
	// Valid reports whether hash matches an unused, unexpired code.
	Valid(ctx context.Context, userID int64, hash string, now time.Time) (bool, error)
	// Consume atomically marks a matching, unexpired code used. It reports
	// false when there was nothing to consume.
	Consume(ctx context.Context, userID int64, hash string, now time.Time) (bool, error)
	// Discard invalidates any pending code for the user.
	Discard(ctx context.Context, userID int64) error
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}

var errInvalidCode = derrors.Validation("invalid or expired code")

func resetKey(userID int64) string { return strconv.FormatInt(userID, 10) }

// checkResetAttempts fails while the account is locked out of code checks.
func (d *Directory) checkResetAttempts(userID int64) error {
	if blocked, wait := d.resetAttempts.check(resetKey(userID)); blocked {
		return &LockedError{RetryAfter: wait}
	}
	return nil
}

// codeFailure records a wrong code. Reaching the limit discards the
// pending code, so the account holder has to request a new one.
func (d *Directory) codeFailure(ctx context.Context, userID int64) error {
	key := resetKey(userID)
	d.resetAttempts.recordFailure(key)
	if blocked, _ := d.resetAttempts.check(key); blocked {
		if err := d.codes.Discard(ctx, userID); err != nil {
			return fmt.Errorf("user: discarding reset code: %w", err)
		}
		d.logger.WarnContext(ctx, "reset code discarded after repeated failures",
			slog.Int64("user_id", userID))
	}
	return errInvalidCode
}

// SendPasswordResetOTP emails a fresh reset code to the account holder.
func (d *Directory) SendPasswordResetOTP(ctx context.Context, email string) error {
	u, err := d.byEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		return derrors.NotFound("no account for that email")
	}
	if d.mailer == nil {
		return derrors.ExternalService(errors.New("no mailer configured"), "cannot send reset code")
	}
	code, err := util.RandomDigits(resetCodeDigits)
	if err != nil {
		return err
	}
	expires := d.now().Add(ResetCodeTTL)
	if err := d.codes.Save(ctx, u.ID, hashCode(code), expires); err != nil {
		return fmt.Errorf("user: saving reset code: %w", err)
	}
	p, err := d.profile(*u)
	if err != nil {
		return err
	}
	if err := d.mailer.Send(ctx, notify.PasswordResetCode(p.Email, u.Username, code, ResetCodeTTL)); err != nil {
		d.logger.WarnContext(ctx, "reset code delivery failed",
			slog.Int64("user_id", u.ID), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// VerifyOTP checks a reset code without consuming it and returns the
// account id. Wrong codes count towards the same limit as ResetPassword.
func (d *Directory) VerifyOTP(ctx context.Context, email, code string) (int64, error) {
	if strings.TrimSpace(code) == "" {
		return 0, derrors.Validation("code is required")
	}
	u, err := d.byEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if u == nil {
		return 0, derrors.NotFound("no account for that email")
	}
	if err := d.checkResetAttempts(u.ID); err != nil {
		return 0, err
	}
	ok, err := d.codes.Valid(ctx, u.ID, hashCode(code), d.now())
	if err != nil {
		return 0, fmt.Errorf("user: checking reset code: %w", err)
	}
	if !ok {
		return 0, d.codeFailure(ctx, u.ID)
	}
	return u.ID, nil
}

// ResetPassword consumes a reset code and sets a new password. A code can
// only be consumed once.
func (d *Directory) ResetPassword(ctx context.Context, email, code, newPassword, ip string) error {
	if strings.TrimSpace(code) == "" || newPassword == "" {
		return derrors.Validation("code and new password are required")
	}
	u, err := d.byEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		return derrors.NotFound("no account for that email")
	}
	if err := d.checkResetAttempts(u.ID); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), d.bcryptCost)
	if err != nil {
		return fmt.Errorf("user: hashing password: %w", err)
	}

	ok, err := d.codes.Consume(ctx, u.ID, hashCode(code), d.now())
	if err != nil {
		return fmt.Errorf("user: consuming reset code: %w", err)
	}
	if !ok {
		return d.codeFailure(ctx, u.ID)
	}
	d.resetAttempts.recordSuccess(resetKey(u.ID))

	u.PasswordHash = string(hash)
	u.UpdatedAt = d.now().UTC()
	if err := d.users.Put(ctx, u.ID, *u); err != nil {
		return fmt.Errorf("user: storing password for %d: %w", u.ID, err)
	}
	d.metrics.ObserveTransition(Model, "reset_password")
	audit.RecordQuietly(ctx, d.audit, d.logger, audit.Event{
		UserID:   u.ID,
		Action:   audit.ActionUpdate,
		Model:    Model,
		RecordID: u.ID,
		Details:  map[string]bool{"passwordReset": true},
		IP:       ip,
	})
	return nil
}
