package access

import (
	"strings"
	"testing"
	"time"

	"funnelboard_backend/internal/board/domain"

	"github.com/google/uuid"
)

func adminContext() Context {
	userID := uuid.New()
	return Context{UserID: userID, Role: domain.RoleAdmin, TenantID: userID}
}

func operationalContext() Context {
	owner := uuid.New()
	return Context{
		UserID:         owner,
		Role:           domain.RoleOperational,
		OwnerFilter:    &owner,
		InstanceFilter: []uuid.UUID{uuid.New()},
		FunnelFilter:   []uuid.UUID{uuid.New()},
	}
}

func TestAdminLeadsQueryIsTenantScoped(t *testing.T) {
	c := adminContext()
	query, args := BuildSecureLeadsQuery(c, uuid.New(), domain.LeadFilters{}, 25, 0)
	lowered := strings.ToLower(query)

	requiredFragments := []string{
		"l.created_by_user_id = $1",
		"l.kanban_stage_id = $2",
		"order by l.order_position asc",
		"limit $3",
		"offset $4",
	}
	for _, fragment := range requiredFragments {
		if !strings.Contains(lowered, fragment) {
			t.Fatalf("expected tenant-scoped query fragment %q to be present", fragment)
		}
	}
	if args[0] != c.TenantID {
		t.Fatalf("expected the tenant id as the first argument")
	}
}

func TestScopeClauseAlwaysPrecedesCallerFilters(t *testing.T) {
	filters := domain.LeadFilters{Search: "maria"}
	query, _ := BuildSecureLeadsQuery(adminContext(), uuid.New(), filters, 25, 0)

	scopeIdx := strings.Index(query, "l.created_by_user_id = $1")
	searchIdx := strings.Index(query, "ILIKE")
	if scopeIdx < 0 || searchIdx < 0 {
		t.Fatalf("expected both the scope clause and the search clause")
	}
	if scopeIdx > searchIdx {
		t.Fatalf("expected the mandatory scope clause before any caller filter")
	}
}

func TestOperationalLeadsQueryCombinesScopesWithOr(t *testing.T) {
	c := operationalContext()
	query, _ := BuildSecureLeadsQuery(c, uuid.New(), domain.LeadFilters{}, 0, 0)

	requiredFragments := []string{
		"l.owner_id = $1",
		"l.whatsapp_instance_id = ANY($2)",
		"l.funnel_id = ANY($3)",
		" OR ",
	}
	for _, fragment := range requiredFragments {
		if !strings.Contains(query, fragment) {
			t.Fatalf("expected operational scope fragment %q to be present", fragment)
		}
	}
	if strings.Contains(query, "LIMIT") {
		t.Fatalf("expected no limit clause when limit is zero")
	}
}

func TestEmptyOperationalScopeMatchesNothing(t *testing.T) {
	c := Context{UserID: uuid.New(), Role: domain.RoleOperational}
	query, args := BuildSecureLeadsQuery(c, uuid.New(), domain.LeadFilters{}, 25, 0)

	if !strings.Contains(query, "l.id = $1") {
		t.Fatalf("expected an unsatisfiable clause for an empty operational scope")
	}
	if args[0] != uuid.Nil {
		t.Fatalf("expected the impossible id as the scope argument")
	}
}

func TestUnknownRoleMatchesNothing(t *testing.T) {
	c := Context{UserID: uuid.New(), Role: domain.Role("auditor")}

	query, args := BuildSecureLeadsQuery(c, uuid.New(), domain.LeadFilters{}, 25, 0)
	if !strings.Contains(query, "l.id = $1") || args[0] != uuid.Nil {
		t.Fatalf("expected an unsatisfiable lead clause for an unknown role")
	}

	stageQuery, stageArgs := BuildSecureStagesQuery(c, uuid.New())
	if !strings.Contains(stageQuery, "s.id = $1") || stageArgs[0] != uuid.Nil {
		t.Fatalf("expected an unsatisfiable stage clause for an unknown role")
	}
}

func TestFilterClausesBindAllArguments(t *testing.T) {
	stageFilter := uuid.New()
	createdAfter := time.Now().Add(-24 * time.Hour)
	filters := domain.LeadFilters{
		Search:       "maria",
		StageID:      &stageFilter,
		TagIDs:       []uuid.UUID{uuid.New(), uuid.New()},
		CreatedAfter: &createdAfter,
	}

	query, args := BuildSecureLeadsQuery(adminContext(), uuid.New(), filters, 25, 50)

	requiredFragments := []string{
		"l.name ILIKE $3",
		"l.phone ILIKE $3",
		"l.email ILIKE $3",
		"l.kanban_stage_id = $4",
		"lt.tag_id = ANY($5)",
		"l.created_at >= $6",
		"LIMIT $7",
		"OFFSET $8",
	}
	for _, fragment := range requiredFragments {
		if !strings.Contains(query, fragment) {
			t.Fatalf("expected filter fragment %q to be present", fragment)
		}
	}
	if len(args) != 8 {
		t.Fatalf("expected 8 bound arguments, got %d", len(args))
	}
	if args[2] != "%maria%" {
		t.Fatalf("expected the search pattern to be wrapped for ILIKE, got %v", args[2])
	}
}

func TestCountQueryCarriesTheSameScope(t *testing.T) {
	c := operationalContext()
	query, _ := BuildSecureLeadsCountQuery(c, uuid.New(), domain.LeadFilters{Search: "x"})

	if !strings.Contains(query, "COUNT(DISTINCT l.id)") {
		t.Fatalf("expected a distinct count over the tag join")
	}
	if !strings.Contains(query, "l.owner_id = $1") {
		t.Fatalf("expected the operational scope in the count query")
	}
}

func TestStagesQueryScopesColumnsAndEmbeddedTotals(t *testing.T) {
	c := operationalContext()
	query, args := BuildSecureStagesQuery(c, uuid.New())

	if !strings.Contains(query, "s.funnel_id = ANY($1)") {
		t.Fatalf("expected operational stage visibility to follow funnel assignment")
	}
	if !strings.Contains(query, "l.kanban_stage_id = s.id") {
		t.Fatalf("expected the embedded lead total subquery")
	}
	if !strings.Contains(query, "l.owner_id = $2") {
		t.Fatalf("expected the lead scope inside the embedded total")
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 bound arguments, got %d", len(args))
	}
}

// The clause builders and the record validators are two renditions of one
// rule set; this exercises representative rows through both.
func TestClauseAndValidatorAgreement(t *testing.T) {
	c := operationalContext()
	other := uuid.New()

	cases := []struct {
		name string
		lead domain.Lead
		want bool
	}{
		{"owned lead", domain.Lead{ID: uuid.New(), OwnerID: c.OwnerFilter, FunnelID: other}, true},
		{"instance lead", domain.Lead{ID: uuid.New(), WhatsappID: &c.InstanceFilter[0], FunnelID: other}, true},
		{"funnel lead", domain.Lead{ID: uuid.New(), FunnelID: c.FunnelFilter[0]}, true},
		{"unrelated lead", domain.Lead{ID: uuid.New(), FunnelID: other, OwnerID: &other}, false},
	}
	for _, tc := range cases {
		if got := ValidateLeadAccess(c, tc.lead); got != tc.want {
			t.Fatalf("expected %s to validate as %v", tc.name, tc.want)
		}
	}

	empty := Context{UserID: uuid.New(), Role: domain.RoleOperational}
	if ValidateLeadAccess(empty, domain.Lead{ID: uuid.New(), OwnerID: &empty.UserID}) {
		t.Fatalf("expected an empty operational scope to validate nothing, matching the impossible clause")
	}

	admin := adminContext()
	if !ValidateLeadAccess(admin, domain.Lead{CreatedByUserID: admin.TenantID}) {
		t.Fatalf("expected an admin to validate leads in their tenant")
	}
	if ValidateLeadAccess(admin, domain.Lead{CreatedByUserID: other}) {
		t.Fatalf("expected an admin to reject leads outside their tenant")
	}
}

func TestStageValidator(t *testing.T) {
	c := operationalContext()
	if !ValidateStageAccess(c, domain.Stage{FunnelID: c.FunnelFilter[0]}) {
		t.Fatalf("expected an assigned funnel's stage to validate")
	}
	if ValidateStageAccess(c, domain.Stage{FunnelID: uuid.New()}) {
		t.Fatalf("expected an unassigned funnel's stage to be rejected")
	}
	if ValidateStageAccess(Context{Role: domain.Role("auditor")}, domain.Stage{}) {
		t.Fatalf("expected an unknown role to be rejected")
	}
}
