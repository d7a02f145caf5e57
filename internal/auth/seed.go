package auth

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultCoreEmail is the email of a core record created by SeedCore.
const DefaultCoreEmail = "core@localhost.localdomain"

// seedEntropy is the number of random bytes behind a seeded password.
const seedEntropy = 20

// SeedCore gives an empty store a core credential with a random password,
// so the installer can log in once multiuser mode is enabled. The password
// is returned and logged once at WARN. A store that already has users is
// left untouched and "" is returned.
func SeedCore(ctx context.Context, creds *Credentials, logger *slog.Logger) (string, error) {
	empty, err := creds.NoUsersYet(ctx)
	if err != nil {
		return "", fmt.Errorf("checking for existing users: %w", err)
	}
	if !empty {
		logger.Debug("users present, core seed skipped")
		return "", nil
	}

	password, err := seedPassword()
	if err != nil {
		return "", err
	}
	if err := creds.InstallCore(ctx, DefaultCoreEmail, password); err != nil {
		return "", fmt.Errorf("installing core credential: %w", err)
	}

	logger.Warn("core credential seeded; change this password",
		"uuid", creds.coreUUID,
		"email", DefaultCoreEmail,
		"initial_password", password,
	)
	return password, nil
}

// seedPassword returns 160 random bits as lower-case base32.
func seedPassword() (string, error) {
	b := make([]byte, seedEntropy)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating core password: %w", err)
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)), nil
}
