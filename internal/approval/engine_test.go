package approval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
)

var (
	hod      = Actor{ID: "u-hod", Roles: []Role{RoleHOD}, Departments: []string{"IT"}}
	reviewer = Actor{ID: "u-tr", Roles: []Role{RoleTechnicalReviewer}}
	admin    = Actor{ID: "u-admin", Roles: []Role{RoleAdmin}}
	plain    = Actor{ID: "u-1", Roles: []Role{RoleUser}}
)

type itemFixture struct {
	status repository.Status
	review bool
}

func newRequisition(items ...itemFixture) *repository.Requisition {
	req := &repository.Requisition{ID: "req-1", Department: "IT", CreatedBy: "u-1"}
	for i, f := range items {
		req.Items = append(req.Items, &repository.LineItem{
			ID:             fmt.Sprintf("item-%d", i),
			RequisitionID:  req.ID,
			Position:       i,
			Quantity:       1,
			Unit:           "pcs",
			Description:    "thing",
			RequiresReview: f.review,
			Status:         f.status,
		})
	}
	return req
}

func requireRuleError(t *testing.T, err error, kind Kind, reason Reason) {
	t.Helper()
	re, ok := AsRuleError(err)
	require.True(t, ok, "expected *RuleError, got %v", err)
	assert.Equal(t, kind, re.Kind)
	assert.Equal(t, reason, re.Reason)
}

func TestDecide_LastPendingApprovalSignsHOD(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusPending, false})

	d, err := Decide(hod, req, "item-0", ActionApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPending, d.From)
	assert.Equal(t, repository.StatusApproved, d.To)
	assert.Equal(t, RoleHOD, d.ActingRole)
	assert.Equal(t, []repository.SigningRole{repository.SigningHOD}, d.Signings)

	// the snapshot is untouched
	assert.Equal(t, repository.StatusPending, req.Items[0].Status)
}

func TestDecide_AdvanceToReview(t *testing.T) {
	req := newRequisition(
		itemFixture{repository.StatusPending, true},
		itemFixture{repository.StatusPending, false},
	)

	d, err := Decide(hod, req, "item-0", ActionAdvance, "")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPendingTR, d.To)
	assert.Empty(t, d.Signings)
}

func TestDecide_AdvanceOfLastPendingItemSignsHOD(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusPending, true})

	d, err := Decide(hod, req, "item-0", ActionAdvance, "")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPendingTR, d.To)
	assert.Equal(t, []repository.SigningRole{repository.SigningHOD}, d.Signings)
}

func TestDecide_UserCannotApproveReview(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusPendingTR, true})

	_, err := Decide(plain, req, "item-0", ActionApprove, "fine")
	requireRuleError(t, err, KindAuthorization, ReasonUnauthorizedRole)
	assert.Equal(t, repository.StatusPendingTR, req.Items[0].Status)
}

func TestDecide_TerminalIsAlreadyProcessed(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusApproved, false})

	_, err := Decide(admin, req, "item-0", ActionReject, "changed my mind")
	requireRuleError(t, err, KindState, ReasonAlreadyProcessed)
	assert.Equal(t, repository.StatusApproved, req.Items[0].Status)
}

func TestDecide_SecondApprovalSignsHODOnly(t *testing.T) {
	req := newRequisition(
		itemFixture{repository.StatusPending, false},
		itemFixture{repository.StatusPending, false},
		itemFixture{repository.StatusPendingTR, true},
	)

	first, err := Decide(hod, req, "item-0", ActionApprove, "ok")
	require.NoError(t, err)
	assert.Empty(t, first.Signings)
	req.Items[0].Status = first.To

	second, err := Decide(hod, req, "item-1", ActionApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, []repository.SigningRole{repository.SigningHOD}, second.Signings)
	assert.Equal(t, repository.StatusPendingTR, req.Items[2].Status)
}

func TestDecide_ReviewItemCannotSkipReview(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusPending, true})

	for _, action := range []Action{ActionApprove, ActionReject} {
		_, err := Decide(hod, req, "item-0", action, "skip")
		requireRuleError(t, err, KindState, ReasonMustAdvanceFirst)
		_, err = Decide(admin, req, "item-0", action, "skip")
		requireRuleError(t, err, KindState, ReasonMustAdvanceFirst)
	}
}

func TestDecide_NonReviewItemNeverEntersReview(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusPending, false})

	_, err := Decide(hod, req, "item-0", ActionAdvance, "")
	requireRuleError(t, err, KindState, ReasonRoutingMismatch)
}

func TestDecide_AdvanceAlreadyInReview(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusPendingTR, true})

	_, err := Decide(hod, req, "item-0", ActionAdvance, "")
	requireRuleError(t, err, KindState, ReasonAlreadyInReview)
}

func TestDecide_MissingRemark(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusPending, false})

	_, err := Decide(hod, req, "item-0", ActionApprove, "   ")
	requireRuleError(t, err, KindValidation, ReasonMissingRemark)

	// validation wins over the terminal check
	req.Items[0].Status = repository.StatusApproved
	_, err = Decide(hod, req, "item-0", ActionReject, "")
	requireRuleError(t, err, KindValidation, ReasonMissingRemark)
}

func TestDecide_MalformedInput(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusPending, false})

	_, err := Decide(hod, req, "item-0", Action("escalate"), "x")
	requireRuleError(t, err, KindValidation, ReasonMalformedAction)

	_, err = Decide(hod, req, "missing", ActionApprove, "x")
	requireRuleError(t, err, KindValidation, ReasonUnknownItem)

	_, err = Decide(Actor{ID: "nobody"}, req, "item-0", ActionApprove, "x")
	requireRuleError(t, err, KindValidation, ReasonInvalidActor)

	req.Items[0].Status = repository.Status("archived")
	_, err = Decide(hod, req, "item-0", ActionApprove, "x")
	requireRuleError(t, err, KindValidation, ReasonUnknownStatus)
}

func TestDecide_StageRoles(t *testing.T) {
	tests := []struct {
		name   string
		actor  Actor
		status repository.Status
		review bool
		action Action
		want   repository.Status
		kind   Kind
	}{
		{"hod approves pending", hod, repository.StatusPending, false, ActionApprove, repository.StatusApproved, ""},
		{"hod rejects pending", hod, repository.StatusPending, false, ActionReject, repository.StatusRejected, ""},
		{"admin approves pending", admin, repository.StatusPending, false, ActionApprove, repository.StatusApproved, ""},
		{"reviewer cannot act on pending", reviewer, repository.StatusPending, false, ActionApprove, "", KindAuthorization},
		{"reviewer approves review", reviewer, repository.StatusPendingTR, true, ActionApprove, repository.StatusApproved, ""},
		{"reviewer rejects review", reviewer, repository.StatusPendingTR, true, ActionReject, repository.StatusRejected, ""},
		{"admin rejects review", admin, repository.StatusPendingTR, true, ActionReject, repository.StatusRejected, ""},
		{"hod cannot act on review", hod, repository.StatusPendingTR, true, ActionApprove, "", KindAuthorization},
		{"user cannot advance", plain, repository.StatusPending, true, ActionAdvance, "", KindAuthorization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequisition(itemFixture{tt.status, tt.review})
			d, err := Decide(tt.actor, req, "item-0", tt.action, "remark")
			if tt.kind != "" {
				re, ok := AsRuleError(err)
				require.True(t, ok)
				assert.Equal(t, tt.kind, re.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.To)
			assert.True(t, d.To.Valid())
		})
	}
}

func TestDecide_AlreadySignedProducesNoSigning(t *testing.T) {
	req := newRequisition(itemFixture{repository.StatusPending, false})
	signer := "u-earlier"
	req.HODSignedBy = &signer

	d, err := Decide(hod, req, "item-0", ActionApprove, "ok")
	require.NoError(t, err)
	assert.Empty(t, d.Signings)
}

func TestDecide_ReviewerSignsWhenReviewPoolEmpties(t *testing.T) {
	req := newRequisition(
		itemFixture{repository.StatusPendingTR, true},
		itemFixture{repository.StatusPending, false},
	)

	d, err := Decide(reviewer, req, "item-0", ActionApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, []repository.SigningRole{repository.SigningTR}, d.Signings)
}

func TestDecide_AdminSigningStages(t *testing.T) {
	t.Run("single stage when other pool still open", func(t *testing.T) {
		req := newRequisition(
			itemFixture{repository.StatusPending, false},
			itemFixture{repository.StatusPendingTR, true},
		)
		d, err := Decide(admin, req, "item-0", ActionApprove, "ok")
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, d.ActingRole)
		assert.Equal(t, []repository.SigningRole{repository.SigningHOD}, d.Signings)
	})

	t.Run("both stages when both pools empty", func(t *testing.T) {
		req := newRequisition(
			itemFixture{repository.StatusPendingTR, true},
			itemFixture{repository.StatusApproved, false},
		)
		d, err := Decide(admin, req, "item-0", ActionApprove, "ok")
		require.NoError(t, err)
		assert.ElementsMatch(t, []repository.SigningRole{repository.SigningHOD, repository.SigningTR}, d.Signings)
	})

	t.Run("no review signing without review items", func(t *testing.T) {
		req := newRequisition(
			itemFixture{repository.StatusPending, false},
			itemFixture{repository.StatusApproved, false},
		)
		d, err := Decide(admin, req, "item-0", ActionApprove, "ok")
		require.NoError(t, err)
		assert.Equal(t, []repository.SigningRole{repository.SigningHOD}, d.Signings)
	})

	t.Run("review stage signs when its items are already done", func(t *testing.T) {
		req := newRequisition(
			itemFixture{repository.StatusPending, false},
			itemFixture{repository.StatusRejected, true},
		)
		d, err := Decide(admin, req, "item-0", ActionApprove, "ok")
		require.NoError(t, err)
		assert.ElementsMatch(t, []repository.SigningRole{repository.SigningHOD, repository.SigningTR}, d.Signings)
	})

	t.Run("stage role takes precedence over admin", func(t *testing.T) {
		req := newRequisition(
			itemFixture{repository.StatusPendingTR, true},
			itemFixture{repository.StatusApproved, false},
		)
		both := Actor{ID: "u-x", Roles: []Role{RoleAdmin, RoleTechnicalReviewer}}
		d, err := Decide(both, req, "item-0", ActionApprove, "ok")
		require.NoError(t, err)
		assert.Equal(t, RoleTechnicalReviewer, d.ActingRole)
		assert.Equal(t, []repository.SigningRole{repository.SigningTR}, d.Signings)
	})
}

func TestSelectable(t *testing.T) {
	req := newRequisition(
		itemFixture{repository.StatusPending, false},
		itemFixture{repository.StatusPending, true},
		itemFixture{repository.StatusPendingTR, true},
		itemFixture{repository.StatusApproved, false},
		itemFixture{repository.StatusRejectedTR, true},
	)

	assert.Equal(t, []string{"item-0", "item-1"}, Selectable(hod, req))
	assert.Equal(t, []string{"item-2"}, Selectable(reviewer, req))
	assert.Equal(t, []string{"item-0", "item-1", "item-2"}, Selectable(admin, req))
	assert.Empty(t, Selectable(plain, req))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Advance_To_Review ")
	require.NoError(t, err)
	assert.Equal(t, ActionAdvance, a)

	_, err = ParseAction("delete")
	requireRuleError(t, err, KindValidation, ReasonMalformedAction)
}

func TestParseRoles(t *testing.T) {
	roles, err := ParseRoles("hod, admin,")
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleHOD, RoleAdmin}, roles)

	_, err = ParseRoles("hod,ceo")
	assert.Error(t, err)
}

func TestAwaitingRole(t *testing.T) {
	assert.Equal(t, "hod", AwaitingRole(repository.StatusPending))
	assert.Equal(t, "technical_reviewer", AwaitingRole(repository.StatusPendingTR))
	assert.Equal(t, "", AwaitingRole(repository.StatusApproved))
}
