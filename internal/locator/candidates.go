// File: internal/locator/candidates.go
package locator

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role names a semantic UI element independent of the markup that
// currently renders it.
type Role string

const (
	// Authentication surface.
	RoleEmailInput       Role = "email-input"
	RolePasswordInput    Role = "password-input"
	RoleContinueButton   Role = "continue-button"
	RoleSignInButton     Role = "sign-in-button"
	RoleOAuthButton      Role = "oauth-button"
	RoleLoggedInMarker   Role = "logged-in-marker"
	RoleTwoFactorMarker  Role = "two-factor-marker"
	RoleAutomationMarker Role = "automation-blocked-marker"

	// Creation form.
	RoleCustomModeTab Role = "custom-mode-tab"
	RoleLyricsInput   Role = "lyrics-input"
	RoleStyleInput    Role = "style-input"
	RoleTitleReveal   Role = "title-reveal"
	RoleTitleInput    Role = "title-input"
	RoleCreateButton  Role = "create-button"

	// Listing and retrieval surface.
	RoleListingRow         Role = "listing-row"
	RoleGeneratingBadge    Role = "generating-badge"
	RoleCompletionMarker   Role = "completion-marker"
	RoleRowMenuTrigger     Role = "row-menu-trigger"
	RoleDownloadMenuItem   Role = "download-menu-item"
	RoleDownloadFormatItem Role = "download-format-item"

	// Challenge markers.
	RoleCaptchaFrame  Role = "captcha-frame"
	RoleCaptchaBanner Role = "captcha-banner"
)

//go:embed selectors.yaml
var defaultSelectorsFS embed.FS

// CandidateSet maps each role to its ordered selector candidates, most
// specific first. The order is the resilience strategy: precise
// attribute matches win, structural fallbacks only fire when the site
// has drifted.
type CandidateSet struct {
	Roles map[Role][]string `yaml:"roles"`
}

// DefaultCandidates loads the embedded selector table.
func DefaultCandidates() (*CandidateSet, error) {
	data, err := defaultSelectorsFS.ReadFile("selectors.yaml")
	if err != nil {
		return nil, fmt.Errorf("locator: reading embedded selectors: %w", err)
	}
	return parseCandidates(data)
}

// LoadCandidates reads a selector table from an override file so markup
// drift on the target site can be absorbed without a rebuild.
func LoadCandidates(path string) (*CandidateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("locator: reading selectors file %s: %w", path, err)
	}
	return parseCandidates(data)
}

func parseCandidates(data []byte) (*CandidateSet, error) {
	var cs CandidateSet
	if err := yaml.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("locator: parsing selectors: %w", err)
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return &cs, nil
}

// Validate enforces the structural invariant: every declared role has
// at least one candidate.
func (cs *CandidateSet) Validate() error {
	if len(cs.Roles) == 0 {
		return fmt.Errorf("locator: selector table declares no roles")
	}
	for role, candidates := range cs.Roles {
		if len(candidates) == 0 {
			return fmt.Errorf("locator: role %q has an empty candidate list", role)
		}
		for i, sel := range candidates {
			if sel == "" {
				return fmt.Errorf("locator: role %q candidate %d is empty", role, i)
			}
		}
	}
	return nil
}

// Candidates returns the ordered list for a role, or nil when the role
// is unknown.
func (cs *CandidateSet) Candidates(role Role) []string {
	return cs.Roles[role]
}
