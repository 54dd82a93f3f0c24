package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forgo/queuedesk/internal/model"
)

func defaultPolicy() model.CommunityPolicy {
	return model.CommunityPolicy{
		EvidencePolicy:     model.EvidencePolicyExplicitIdentifier,
		CloseAction:        model.CloseActionDestroy,
		StaffRoleRef:       "staff",
		ClaimNoticeDelay:   5 * time.Second,
		ClaimTeardownDelay: time.Minute,
	}
}

func writeProfiles(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProfiles_EmptyPath(t *testing.T) {
	t.Parallel()
	p, err := LoadProfiles("", defaultPolicy())
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}
	if got := p.Policy("any"); got.EvidencePolicy != model.EvidencePolicyExplicitIdentifier || got.StaffRoleRef != "staff" {
		t.Errorf("expected defaults, got %+v", got)
	}
}

func TestLoadProfiles_Overrides(t *testing.T) {
	t.Parallel()
	path := writeProfiles(t, `
communities:
  "901":
    evidence_policy: attachment
    close_action: archive
    staff_role: "455"
    staff_users: ["u1", "u2"]
    claim_teardown_delay: 2m
  "902":
    marker_role: "777"
`)

	p, err := LoadProfiles(path, defaultPolicy())
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}

	got := p.Policy("901")
	if got.EvidencePolicy != model.EvidencePolicyAttachment {
		t.Errorf("expected attachment, got %q", got.EvidencePolicy)
	}
	if got.CloseAction != model.CloseActionArchive {
		t.Errorf("expected archive, got %q", got.CloseAction)
	}
	if got.StaffRoleRef != "455" {
		t.Errorf("expected staff role 455, got %q", got.StaffRoleRef)
	}
	if !got.IsStaffUser("u2") || got.IsStaffUser("u3") {
		t.Errorf("unexpected roster %v", got.StaffUserIDs)
	}
	if got.ClaimTeardownDelay != 2*time.Minute {
		t.Errorf("expected 2m teardown, got %v", got.ClaimTeardownDelay)
	}
	if got.ClaimNoticeDelay != 5*time.Second {
		t.Errorf("expected inherited notice delay, got %v", got.ClaimNoticeDelay)
	}

	partial := p.Policy("902")
	if partial.MarkerRoleRef != "777" || partial.StaffRoleRef != "staff" {
		t.Errorf("expected marker override over defaults, got %+v", partial)
	}
	if len(p.Communities()) != 2 {
		t.Errorf("expected 2 profiled communities, got %v", p.Communities())
	}
}

func TestLoadProfiles_Invalid(t *testing.T) {
	t.Parallel()
	path := writeProfiles(t, `
communities:
  "901":
    evidence_policy: screenshot
  "902":
    claim_notice_delay: soon
`)

	_, err := LoadProfiles(path, defaultPolicy())
	if err == nil {
		t.Fatal("expected error for invalid profiles")
	}
	for _, want := range []string{"community 901", "community 902", "claim_notice_delay"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestLoadProfiles_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := LoadProfiles(filepath.Join(t.TempDir(), "absent.yaml"), defaultPolicy()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadProfiles_Malformed(t *testing.T) {
	t.Parallel()
	path := writeProfiles(t, "communities: [unclosed")
	if _, err := LoadProfiles(path, defaultPolicy()); err == nil {
		t.Error("expected parse error")
	}
}
