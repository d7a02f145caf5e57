package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
)

// TOTP parameters (RFC 6238 defaults, as authenticator apps expect).
const (
	totpPeriod     = 30
	totpSecretSize = 20
	totpQRSize     = 200
	defaultIssuer  = "Gray Logic"
)

// Enrollment is a freshly generated second-factor secret awaiting confirmation.
type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
	QRCode string `json:"qrcode"` // data:image/png;base64,...
}

// Status describes a user's second-factor enrollment.
type Status struct {
	Enabled bool   `json:"enabled"`
	Secret  string `json:"-"`
}

// NotEnrolled is the Status of a user without a second factor.
var NotEnrolled = Status{}

// SecondFactor manages TOTP enrollment and verification.
type SecondFactor struct {
	users  UserRepository
	events audit.Sink
	issuer string
	skew   uint
	now    func() time.Time
}

// NewSecondFactor creates a SecondFactor. skew is the number of 30-second
// steps accepted either side of the current one.
func NewSecondFactor(users UserRepository, events audit.Sink, issuer string, skew uint) *SecondFactor {
	if issuer == "" {
		issuer = defaultIssuer
	}
	if events == nil {
		events = audit.NoOpSink{}
	}
	return &SecondFactor{
		users:  users,
		events: events,
		issuer: issuer,
		skew:   skew,
		now:    time.Now,
	}
}

// Enroll generates a new secret with its otpauth URL and QR code.
// Nothing is persisted until Enable confirms a code.
func (f *SecondFactor) Enroll(accountName string) (*Enrollment, error) {
	if accountName == "" {
		return nil, fmt.Errorf("%w: account name is required", ErrValidation)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      f.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generating totp key: %w", err)
	}

	img, err := key.Image(totpQRSize, totpQRSize)
	if err != nil {
		return nil, fmt.Errorf("rendering qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}

	return &Enrollment{
		Secret: key.Secret(),
		URL:    key.URL(),
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// VerifyBySecret checks code against secret at the current time.
// A malformed secret or code yields false.
func (f *SecondFactor) VerifyBySecret(secret, code string) bool {
	secret = strings.TrimSpace(secret)
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, f.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      f.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// VerifyForUser checks code against the user's enrolled secret.
// A user without a second factor, or an unknown user, yields false.
func (f *SecondFactor) VerifyForUser(ctx context.Context, uuid, code string) (bool, error) {
	st, err := f.Status(ctx, uuid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !st.Enabled {
		return false, nil
	}

	ok := f.VerifyBySecret(st.Secret, code)
	if ok {
		f.emit(ctx, audit.ActionSecondFactorCheck, audit.LevelDebug, uuid, "second factor verified")
	}
	return ok, nil
}

// Enable persists secret for the user once code proves the user holds it.
func (f *SecondFactor) Enable(ctx context.Context, uuid, secret, code string) error {
	if !f.VerifyBySecret(secret, code) {
		return ErrInvalidSecondFactor
	}
	if err := f.users.SetTOTPSecret(ctx, uuid, strings.TrimSpace(secret)); err != nil {
		return err
	}

	f.emit(ctx, audit.ActionSecondFactorOn, audit.LevelSuccess, uuid, "second factor enabled")
	return nil
}

// Disable clears the user's second factor. The code must verify against
// the enrolled secret.
func (f *SecondFactor) Disable(ctx context.Context, uuid, code string) error {
	st, err := f.Status(ctx, uuid)
	if err != nil {
		return err
	}
	if !st.Enabled || !f.VerifyBySecret(st.Secret, code) {
		return ErrInvalidSecondFactor
	}
	if err := f.users.SetTOTPSecret(ctx, uuid, ""); err != nil {
		return err
	}

	f.emit(ctx, audit.ActionSecondFactorOff, audit.LevelWarning, uuid, "second factor disabled")
	return nil
}

// Status returns the user's enrollment, or NotEnrolled.
func (f *SecondFactor) Status(ctx context.Context, uuid string) (Status, error) {
	u, err := f.users.GetByID(ctx, uuid)
	if err != nil {
		return NotEnrolled, err
	}
	if !u.HasSecondFactor() {
		return NotEnrolled, nil
	}
	return Status{Enabled: true, Secret: u.TOTPSecret}, nil
}

func (f *SecondFactor) emit(ctx context.Context, action string, level audit.Level, uuid, msg string) {
	f.events.Emit(ctx, audit.Event{ //nolint:errcheck // event delivery is best effort
		Action:  action,
		Level:   level,
		UserID:  uuid,
		Message: msg,
		At:      f.now(),
	})
}
