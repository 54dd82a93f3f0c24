package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgo/queuedesk/internal/model"
)

// Profile overrides the deployment policy for one community. Empty fields
// inherit the deployment value.
type Profile struct {
	EvidencePolicy     model.EvidencePolicy `yaml:"evidence_policy,omitempty"`
	CloseAction        model.CloseAction    `yaml:"close_action,omitempty"`
	StaffRole          string               `yaml:"staff_role,omitempty"`
	MarkerRole         string               `yaml:"marker_role,omitempty"`
	StaffUsers         []string             `yaml:"staff_users,omitempty"`
	ClaimNoticeDelay   string               `yaml:"claim_notice_delay,omitempty"`
	ClaimTeardownDelay string               `yaml:"claim_teardown_delay,omitempty"`
}

// profilesFile is the YAML document at COMMUNITY_PROFILES_PATH
type profilesFile struct {
	Communities map[string]Profile `yaml:"communities"`
}

// Profiles resolves community policies from the deployment default and the
// per-community overrides. It is read-only after construction.
type Profiles struct {
	defaults model.CommunityPolicy
	resolved map[string]model.CommunityPolicy
}

// NewProfiles merges each profile over defaults
func NewProfiles(defaults model.CommunityPolicy, profiles map[string]Profile) (*Profiles, error) {
	p := &Profiles{
		defaults: defaults,
		resolved: make(map[string]model.CommunityPolicy, len(profiles)),
	}

	var errs []error
	for communityID, profile := range profiles {
		policy, err := profile.apply(defaults)
		if err != nil {
			errs = append(errs, fmt.Errorf("community %s: %w", communityID, err))
			continue
		}
		p.resolved[communityID] = policy
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}

// LoadProfiles reads the profiles file at path. An empty path yields the
// defaults for every community.
func LoadProfiles(path string, defaults model.CommunityPolicy) (*Profiles, error) {
	if path == "" {
		return NewProfiles(defaults, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read community profiles: %w", err)
	}
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse community profiles: %w", err)
	}
	return NewProfiles(defaults, file.Communities)
}

// Policy returns the resolved policy of a community
func (p *Profiles) Policy(communityID string) model.CommunityPolicy {
	if policy, ok := p.resolved[communityID]; ok {
		return policy
	}
	return p.defaults
}

// Communities returns the ids with an explicit profile
func (p *Profiles) Communities() []string {
	ids := make([]string, 0, len(p.resolved))
	for id := range p.resolved {
		ids = append(ids, id)
	}
	return ids
}

func (pr Profile) apply(base model.CommunityPolicy) (model.CommunityPolicy, error) {
	policy := base
	if pr.EvidencePolicy != "" {
		if !pr.EvidencePolicy.IsValid() {
			return policy, fmt.Errorf("unknown evidence_policy %q", pr.EvidencePolicy)
		}
		policy.EvidencePolicy = pr.EvidencePolicy
	}
	if pr.CloseAction != "" {
		if !pr.CloseAction.IsValid() {
			return policy, fmt.Errorf("unknown close_action %q", pr.CloseAction)
		}
		policy.CloseAction = pr.CloseAction
	}
	if pr.StaffRole != "" {
		policy.StaffRoleRef = pr.StaffRole
	}
	if pr.MarkerRole != "" {
		policy.MarkerRoleRef = pr.MarkerRole
	}
	if len(pr.StaffUsers) > 0 {
		policy.StaffUserIDs = append([]string(nil), pr.StaffUsers...)
	}

	var err error
	if policy.ClaimNoticeDelay, err = overrideDuration(pr.ClaimNoticeDelay, base.ClaimNoticeDelay); err != nil {
		return policy, fmt.Errorf("claim_notice_delay: %w", err)
	}
	if policy.ClaimTeardownDelay, err = overrideDuration(pr.ClaimTeardownDelay, base.ClaimTeardownDelay); err != nil {
		return policy, fmt.Errorf("claim_teardown_delay: %w", err)
	}
	return policy, nil
}

func overrideDuration(value string, base time.Duration) (time.Duration, error) {
	if value == "" {
		return base, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}
