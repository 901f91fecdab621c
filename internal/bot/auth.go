// File: internal/bot/auth.go
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/basketman23/suno-automation/internal/config"
	"github.com/basketman23/suno-automation/internal/credstore"
	"github.com/basketman23/suno-automation/internal/locator"
	"github.com/basketman23/suno-automation/internal/status"
)

// CredentialSource hands out stored login credentials. Satisfied by
// *credstore.Store.
type CredentialSource interface {
	Load() (credstore.Credentials, error)
}

// SessionManager establishes and verifies the authenticated session.
// It leans on the persisted browser profile: the common case is that
// the marker element is already there and no login flow runs at all.
type SessionManager struct {
	cfg      config.AuthConfig
	baseURL  string
	surface  Surface
	interact Interactor
	resolver *locator.Resolver
	creds    CredentialSource
	sink     status.Sink
	logger   *zap.Logger

	// checkPoll is how often the logged-in marker is re-probed while
	// waiting for a human to finish login. Overridden in tests.
	checkPoll time.Duration
}

// NewSessionManager wires a session manager.
func NewSessionManager(cfg config.AuthConfig, baseURL string, surface Surface, interact Interactor, resolver *locator.Resolver, creds CredentialSource, sink status.Sink, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		cfg:       cfg,
		baseURL:   baseURL,
		surface:   surface,
		interact:  interact,
		resolver:  resolver,
		creds:     creds,
		sink:      sink,
		logger:    logger.Named("auth"),
		checkPoll: 2 * time.Second,
	}
}

// EnsureAuthenticated verifies the session, running the configured
// login flow when the persisted profile has expired. Login failures are
// never auto-retried: a second scripted attempt right after a failed
// one is exactly the pattern bot detection looks for.
func (s *SessionManager) EnsureAuthenticated(ctx context.Context) error {
	if err := s.surface.Navigate(s.baseURL); err != nil {
		return s.classifyNavError(err)
	}

	if s.resolver.Present(ctx, locator.RoleLoggedInMarker) {
		s.logger.Info("Persisted session still valid, skipping login")
		s.sink.Emit(status.New(status.StatusAuthenticated, "session restored from profile", nil))
		return nil
	}

	if s.resolver.Present(ctx, locator.RoleAutomationMarker) {
		return fmt.Errorf("automation block on landing page: %w", ErrRateLimited)
	}

	s.logger.Info("No live session, starting login", zap.String("method", s.cfg.Method))

	var handoff bool
	var err error
	switch s.cfg.Method {
	case "password":
		handoff, err = s.passwordLogin(ctx)
	default:
		handoff, err = s.oauthLogin(ctx)
	}
	if err != nil {
		return err
	}

	if err := s.awaitLoggedIn(ctx, handoff); err != nil {
		return err
	}
	s.sink.Emit(status.New(status.StatusAuthenticated, "login completed", nil))
	return nil
}

// oauthLogin clicks through to the identity provider button and, when
// stored credentials exist, scripts the provider's email and password
// steps. The moment a block or 2FA prompt shows, scripted input stops
// and the human takes over.
func (s *SessionManager) oauthLogin(ctx context.Context) (bool, error) {
	if m, ok, err := s.resolver.TryResolve(ctx, locator.RoleSignInButton); err != nil {
		return false, err
	} else if ok {
		if err := s.interact.Click(ctx, m.Selector); err != nil {
			return false, fmt.Errorf("opening sign-in dialog: %w", err)
		}
	}

	m, err := s.resolver.Resolve(ctx, locator.RoleOAuthButton)
	if err != nil {
		return false, fmt.Errorf("locating identity provider button: %w", err)
	}
	if err := s.interact.Click(ctx, m.Selector); err != nil {
		return false, fmt.Errorf("clicking identity provider button: %w", err)
	}

	creds, err := s.creds.Load()
	if err != nil || strings.TrimSpace(creds.Email) == "" {
		s.sink.Emit(status.New(status.StatusManualLoginNeeded,
			"complete the identity provider flow in the browser window", nil))
		return false, nil
	}
	return s.scriptedProviderEntry(ctx, creds)
}

// scriptedProviderEntry walks the provider's email and password steps,
// re-resolving each field as it appears. Any missing step, automation
// block, or 2FA prompt ends scripted input and defers to the human;
// only interaction failures on a located field are errors.
func (s *SessionManager) scriptedProviderEntry(ctx context.Context, creds credstore.Credentials) (bool, error) {
	email, ok, err := s.resolver.TryResolve(ctx, locator.RoleEmailInput)
	if err != nil {
		return false, err
	}
	if !ok {
		return s.manualHandoff("identity provider form not recognized, finish login in the browser window"), nil
	}
	if err := s.interact.Type(ctx, email.Selector, creds.Email); err != nil {
		return false, fmt.Errorf("entering provider email: %w", err)
	}
	if err := s.clickContinue(ctx); err != nil {
		return false, err
	}
	if s.blockedOrTwoFactor(ctx) {
		return s.manualHandoff("identity provider challenged the login, finish it in the browser window"), nil
	}

	password, ok, err := s.resolver.TryResolve(ctx, locator.RolePasswordInput)
	if err != nil {
		return false, err
	}
	if !ok {
		return s.manualHandoff("provider password step not recognized, finish login in the browser window"), nil
	}
	if err := s.interact.Type(ctx, password.Selector, creds.Password); err != nil {
		return false, fmt.Errorf("entering provider password: %w", err)
	}
	if err := s.clickContinue(ctx); err != nil {
		return false, err
	}
	if s.blockedOrTwoFactor(ctx) {
		return s.manualHandoff("two-factor prompt detected, complete it in the browser window"), nil
	}
	return false, nil
}

// blockedOrTwoFactor reports whether the page moved into a state only
// a human can clear.
func (s *SessionManager) blockedOrTwoFactor(ctx context.Context) bool {
	return s.resolver.Present(ctx, locator.RoleTwoFactorMarker) ||
		s.resolver.Present(ctx, locator.RoleAutomationMarker)
}

func (s *SessionManager) manualHandoff(message string) bool {
	s.logger.Info("Handing login over to the operator", zap.String("reason", message))
	s.sink.Emit(status.New(status.StatusManualLoginNeeded, message, nil))
	return true
}

// passwordLogin types stored credentials into the email/password form.
// 2FA prompts are left for the human and covered by awaitLoggedIn.
func (s *SessionManager) passwordLogin(ctx context.Context) (bool, error) {
	creds, err := s.creds.Load()
	if err != nil {
		return false, fmt.Errorf("loading credentials: %w", err)
	}

	if m, ok, rerr := s.resolver.TryResolve(ctx, locator.RoleSignInButton); rerr != nil {
		return false, rerr
	} else if ok {
		if err := s.interact.Click(ctx, m.Selector); err != nil {
			return false, fmt.Errorf("opening sign-in dialog: %w", err)
		}
	}

	email, err := s.resolver.Resolve(ctx, locator.RoleEmailInput)
	if err != nil {
		return false, fmt.Errorf("locating email field: %w", err)
	}
	if err := s.interact.Type(ctx, email.Selector, creds.Email); err != nil {
		return false, fmt.Errorf("entering email: %w", err)
	}
	if err := s.clickContinue(ctx); err != nil {
		return false, err
	}

	password, err := s.resolver.Resolve(ctx, locator.RolePasswordInput)
	if err != nil {
		return false, fmt.Errorf("locating password field: %w", err)
	}
	if err := s.interact.Type(ctx, password.Selector, creds.Password); err != nil {
		return false, fmt.Errorf("entering password: %w", err)
	}
	if err := s.clickContinue(ctx); err != nil {
		return false, err
	}

	if s.resolver.Present(ctx, locator.RoleTwoFactorMarker) {
		return s.manualHandoff("two-factor prompt detected, complete it in the browser window"), nil
	}
	return false, nil
}

func (s *SessionManager) clickContinue(ctx context.Context) error {
	m, err := s.resolver.Resolve(ctx, locator.RoleContinueButton)
	if err != nil {
		return fmt.Errorf("locating continue button: %w", err)
	}
	if err := s.interact.Click(ctx, m.Selector); err != nil {
		return fmt.Errorf("clicking continue: %w", err)
	}
	return nil
}

// awaitLoggedIn polls for the logged-in marker until it appears or the
// manual-intervention window closes. After a manual handoff the
// automation marker is expected on screen until the human clears it,
// so it only escalates when no handoff happened.
func (s *SessionManager) awaitLoggedIn(ctx context.Context, handoff bool) error {
	wait := s.cfg.ManualWait
	if wait <= 0 {
		wait = 5 * time.Minute
	}
	deadline := time.Now().Add(wait)

	for {
		if !s.surface.Alive() {
			return ErrSessionLost
		}
		if s.resolver.Present(ctx, locator.RoleLoggedInMarker) {
			return nil
		}
		if !handoff && s.resolver.Present(ctx, locator.RoleAutomationMarker) {
			s.surface.Screenshot("login-automation-block")
			return fmt.Errorf("automation block during login: %w", ErrRateLimited)
		}
		if time.Now().After(deadline) {
			s.surface.Screenshot("login-timeout")
			return ErrLoginTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.checkPoll):
		}
	}
}

func (s *SessionManager) classifyNavError(err error) error {
	if !s.surface.Alive() {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	return err
}
