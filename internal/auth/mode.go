package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/settings"
)

// MultiuserKey is the setting that persists the mode flag.
const MultiuserKey = "multiuser:enabled"

// CoreInstaller installs the core credential before multiuser mode is enabled.
type CoreInstaller interface {
	InstallCore(ctx context.Context, email, password string) error
}

// ModeSwitch owns the single-user/multi-user flag.
//
// The flag is cached in memory. It is loaded by Load, refreshed after every
// mutation, and re-read from the settings store when older than the TTL.
// Mode changes never touch session tokens.
type ModeSwitch struct {
	settings  settings.Store
	installer CoreInstaller
	events    audit.Sink
	ttl       time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	enabled  bool
	loadedAt time.Time
	loaded   bool
}

// NewModeSwitch creates a ModeSwitch. A ttl of zero re-reads the store on every call.
// installer may be nil and set later with SetInstaller, since Credentials
// itself depends on the mode through its Resolver.
func NewModeSwitch(s settings.Store, installer CoreInstaller, events audit.Sink, ttl time.Duration) *ModeSwitch {
	if events == nil {
		events = audit.NoOpSink{}
	}
	return &ModeSwitch{
		settings:  s,
		installer: installer,
		events:    events,
		ttl:       ttl,
		now:       time.Now,
	}
}

// SetInstaller sets the component that installs the core credential.
func (m *ModeSwitch) SetInstaller(installer CoreInstaller) {
	m.mu.Lock()
	m.installer = installer
	m.mu.Unlock()
}

// Load reads the persisted flag into the cache.
func (m *ModeSwitch) Load(ctx context.Context) error {
	enabled, err := settings.GetBool(ctx, m.settings, SettingsNamespace, MultiuserKey, false)
	if err != nil {
		return fmt.Errorf("%w: reading multiuser flag: %w", ErrStoreFailure, err)
	}

	m.mu.Lock()
	m.enabled = enabled
	m.loadedAt = m.now()
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// IsEnabled reports whether multiuser mode is on. Default false.
func (m *ModeSwitch) IsEnabled(ctx context.Context) (bool, error) {
	m.mu.RLock()
	fresh := m.loaded && m.ttl > 0 && m.now().Sub(m.loadedAt) < m.ttl
	enabled := m.enabled
	m.mu.RUnlock()

	if fresh {
		return enabled, nil
	}

	if err := m.Load(ctx); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled, nil
}

// Enable installs the core credential and turns multiuser mode on.
// The flag is not changed if installation fails.
func (m *ModeSwitch) Enable(ctx context.Context, email, password string) error {
	m.mu.RLock()
	installer := m.installer
	m.mu.RUnlock()
	if installer == nil {
		return errors.New("mode switch has no core installer")
	}

	if err := installer.InstallCore(ctx, email, password); err != nil {
		return err
	}
	if err := m.set(ctx, true); err != nil {
		return err
	}

	m.events.Emit(ctx, audit.Event{ //nolint:errcheck // event delivery is best effort
		Action:  audit.ActionModeEnabled,
		Level:   audit.LevelWarning,
		Message: "multiuser mode enabled",
		At:      m.now(),
	})
	return nil
}

// Disable turns multiuser mode off. Only a loopback source may do this.
func (m *ModeSwitch) Disable(ctx context.Context, sourceAddr string) error {
	if !IsLoopback(sourceAddr) {
		return ErrUnauthorized
	}
	if err := m.set(ctx, false); err != nil {
		return err
	}

	m.events.Emit(ctx, audit.Event{ //nolint:errcheck // event delivery is best effort
		Action:  audit.ActionModeDisabled,
		Level:   audit.LevelWarning,
		Message: "multiuser mode disabled",
		Source:  sourceAddr,
		At:      m.now(),
	})
	return nil
}

// set persists the flag and refreshes the cache from the store.
func (m *ModeSwitch) set(ctx context.Context, enabled bool) error {
	if err := m.settings.Set(ctx, SettingsNamespace, MultiuserKey, enabled); err != nil {
		return fmt.Errorf("%w: writing multiuser flag: %w", ErrStoreFailure, err)
	}
	return m.Load(ctx)
}
