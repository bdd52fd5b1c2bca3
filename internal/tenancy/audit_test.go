package tenancy

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"teamledger.io/internal/obs"
)

func TestMutationsEmitAuditEvents(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := obs.Logger()
	obs.SetLogger(zap.New(core))
	t.Cleanup(func() { obs.SetLogger(prev) })

	f := newFixture(t)
	owner := f.user("owner@example.com")
	bob := f.user("bob@example.com")
	org := f.org(owner, "Acme Ltd")
	m := f.join(org, owner, bob, RoleMember)
	if err := f.svc.RemoveMember(f.ctx, owner.ID, org.ID, m.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	want := []string{"organization.created", "member.invited", "invitation.accepted", "member.removed"}
	var got []string
	for _, e := range logs.FilterField(zap.String("type", "audit")).All() {
		got = append(got, e.ContextMap()["event"].(string))
	}
	if len(got) != len(want) {
		t.Fatalf("audit events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit events = %v, want %v", got, want)
		}
	}
	last := logs.FilterField(zap.String("event", "member.removed")).All()[0].ContextMap()
	fields := last["fields"].(map[string]any)
	if fields["actor_id"] != owner.ID || fields["membership_id"] != m.ID {
		t.Fatalf("unexpected audit fields %v", fields)
	}
}
