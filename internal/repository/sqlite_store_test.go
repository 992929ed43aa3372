package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-proc-requisitions/internal/database"
	"github.com/pesio-ai/be-proc-requisitions/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, MigrateSQLite(context.Background(), db))
	return NewSQLiteStore(db)
}

func seedTag(t *testing.T, s *SQLiteStore, name string, review bool) *Tag {
	t.Helper()
	tag := &Tag{ID: uuid.NewString(), Name: name, RequiresReview: review}
	require.NoError(t, s.CreateTag(context.Background(), tag))
	return tag
}

func seedRequisition(t *testing.T, s *SQLiteStore, dept string, tags ...*Tag) *Requisition {
	t.Helper()
	req := &Requisition{
		ID:            uuid.NewString(),
		Purpose:       "lab supplies",
		Department:    dept,
		DateSubmitted: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DateNeeded:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		CreatedBy:     "u-creator",
	}
	for i, tag := range tags {
		req.Items = append(req.Items, &LineItem{
			ID:          uuid.NewString(),
			Position:    i + 1,
			Quantity:    2,
			Unit:        "pcs",
			Description: fmt.Sprintf("item %d", i+1),
			TagID:       tag.ID,
			Status:      StatusPending,
		})
	}
	created := &ChangeEvent{
		ID:            uuid.NewString(),
		Type:          EventRequisitionCreated,
		RequisitionID: req.ID,
		ActorID:       req.CreatedBy,
		OccurredAt:    time.Now(),
	}
	require.NoError(t, s.Create(context.Background(), req, created))
	return req
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	plain := seedTag(t, s, "office", false)
	review := seedTag(t, s, "it_tr", true)

	first := seedRequisition(t, s, "eng", plain, review)
	second := seedRequisition(t, s, "eng", plain)
	assert.Equal(t, int64(1), first.SeriesNumber)
	assert.Equal(t, int64(2), second.SeriesNumber)

	got, err := s.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "lab supplies", got.Purpose)
	assert.Equal(t, first.DateNeeded, got.DateNeeded)
	assert.Nil(t, got.HODSignedBy)
	require.Len(t, got.Items, 2)
	assert.False(t, got.Items[0].RequiresReview)
	assert.True(t, got.Items[1].RequiresReview)
	assert.Equal(t, StatusPending, got.Items[1].Status)
	assert.Nil(t, got.Items[0].ActedAt)

	_, err = s.GetByID(context.Background(), "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestSQLiteStore_List(t *testing.T) {
	s := newTestStore(t)
	tag := seedTag(t, s, "office", false)
	seedRequisition(t, s, "eng", tag)
	seedRequisition(t, s, "ops", tag)
	seedRequisition(t, s, "eng", tag)

	all, err := s.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].SeriesNumber)
	assert.Len(t, all[0].Items, 1)

	eng, err := s.List(context.Background(), ListFilter{Departments: []string{"eng"}})
	require.NoError(t, err)
	assert.Len(t, eng, 2)

	paged, err := s.List(context.Background(), ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, int64(2), paged[0].SeriesNumber)

	none, err := s.List(context.Background(), ListFilter{CreatedBy: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_CommitTransition(t *testing.T) {
	s := newTestStore(t)
	tag := seedTag(t, s, "office", false)
	req := seedRequisition(t, s, "eng", tag)
	item := req.Items[0]
	now := time.Now().UTC()

	tr := &Transition{
		RequisitionID: req.ID,
		ItemID:        item.ID,
		FromStatus:    StatusPending,
		ToStatus:      StatusApproved,
		Remark:        "ok",
		ActedBy:       "u-hod",
		ActedAt:       now,
		Signings:      []SigningRole{SigningHOD},
		Events: []*ChangeEvent{
			{ID: uuid.NewString(), Type: EventItemTransitioned, RequisitionID: req.ID, ItemID: item.ID,
				OldStatus: StatusPending, NewStatus: StatusApproved, ActorID: "u-hod", OccurredAt: now},
			{ID: uuid.NewString(), Type: EventRequisitionSigned, RequisitionID: req.ID,
				Role: string(SigningHOD), ActorID: "u-hod", OccurredAt: now},
		},
	}
	applied, err := s.CommitTransition(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, []SigningRole{SigningHOD}, applied)

	got, err := s.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Items[0].Status)
	assert.Equal(t, "ok", got.Items[0].Remark)
	require.NotNil(t, got.Items[0].ActedBy)
	assert.Equal(t, "u-hod", *got.Items[0].ActedBy)
	require.NotNil(t, got.HODSignedBy)
	assert.Equal(t, "u-hod", *got.HODSignedBy)

	events, err := s.ListEvents(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventRequisitionCreated, events[0].Type)
	assert.Equal(t, EventItemTransitioned, events[1].Type)
	assert.Equal(t, "eng", events[1].Department)
	assert.Equal(t, "u-creator", events[1].CreatedBy)
	assert.Equal(t, EventRequisitionSigned, events[2].Type)

	// the same from-status no longer matches
	_, err = s.CommitTransition(context.Background(), tr)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
}

func TestSQLiteStore_SigningFirstWriterWins(t *testing.T) {
	s := newTestStore(t)
	tag := seedTag(t, s, "office", false)
	req := seedRequisition(t, s, "eng", tag, tag)
	now := time.Now().UTC()

	commit := func(item *LineItem, actor string) []SigningRole {
		applied, err := s.CommitTransition(context.Background(), &Transition{
			RequisitionID: req.ID,
			ItemID:        item.ID,
			FromStatus:    StatusPending,
			ToStatus:      StatusApproved,
			Remark:        "ok",
			ActedBy:       actor,
			ActedAt:       now,
			Signings:      []SigningRole{SigningHOD},
			Events: []*ChangeEvent{
				{ID: uuid.NewString(), Type: EventRequisitionSigned, RequisitionID: req.ID,
					Role: string(SigningHOD), ActorID: actor, OccurredAt: now},
			},
		})
		require.NoError(t, err)
		return applied
	}

	assert.Equal(t, []SigningRole{SigningHOD}, commit(req.Items[0], "u-first"))
	assert.Empty(t, commit(req.Items[1], "u-second"))

	got, err := s.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, "u-first", *got.HODSignedBy)

	events, err := s.ListEvents(context.Background(), req.ID)
	require.NoError(t, err)
	signed := 0
	for _, e := range events {
		if e.Type == EventRequisitionSigned {
			signed++
		}
	}
	assert.Equal(t, 1, signed)
}

func TestSQLiteStore_ReopenItem(t *testing.T) {
	s := newTestStore(t)
	tag := seedTag(t, s, "office", false)
	req := seedRequisition(t, s, "eng", tag)
	item := req.Items[0]
	now := time.Now().UTC()

	reopen := &LineItem{
		ID:            item.ID,
		RequisitionID: req.ID,
		Quantity:      5,
		Unit:          "box",
		Description:   "revised",
		TagID:         tag.ID,
		Status:        StatusPending,
		UpdatedAt:     now,
	}
	err := s.ReopenItem(context.Background(), reopen, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict), "pending items cannot be reopened")

	_, err = s.CommitTransition(context.Background(), &Transition{
		RequisitionID: req.ID, ItemID: item.ID,
		FromStatus: StatusPending, ToStatus: StatusRejected,
		Remark: "wrong unit", ActedBy: "u-hod", ActedAt: now,
	})
	require.NoError(t, err)

	require.NoError(t, s.ReopenItem(context.Background(), reopen, &ChangeEvent{
		ID: uuid.NewString(), Type: EventItemReopened, RequisitionID: req.ID, ItemID: item.ID,
		OldStatus: StatusRejected, NewStatus: StatusPending, ActorID: "u-creator", OccurredAt: now,
	}))

	got, err := s.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	it := got.Items[0]
	assert.Equal(t, StatusPending, it.Status)
	assert.Equal(t, 5, it.Quantity)
	assert.Equal(t, "revised", it.Description)
	assert.Empty(t, it.Remark)
	assert.Nil(t, it.ActedBy)
}

func TestSQLiteStore_Tags(t *testing.T) {
	s := newTestStore(t)
	b := seedTag(t, s, "b_tr", true)
	seedTag(t, s, "a", false)

	err := s.CreateTag(context.Background(), &Tag{ID: uuid.NewString(), Name: "a"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))

	tags, err := s.ListTags(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0].Name)

	got, err := s.GetTag(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, got.RequiresReview)

	_, err = s.GetTag(context.Background(), "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestTransition_CommittedEvents(t *testing.T) {
	tr := &Transition{Events: []*ChangeEvent{
		{Type: EventItemTransitioned},
		{Type: EventRequisitionSigned, Role: string(SigningHOD)},
		{Type: EventRequisitionSigned, Role: string(SigningTR)},
	}}
	got := tr.CommittedEvents([]SigningRole{SigningTR})
	require.Len(t, got, 2)
	assert.Equal(t, EventItemTransitioned, got[0].Type)
	assert.Equal(t, string(SigningTR), got[1].Role)
}

func TestRequiresReviewByConvention(t *testing.T) {
	assert.True(t, RequiresReviewByConvention("IT_TR", ""))
	assert.True(t, RequiresReviewByConvention("it", "network gear _tr"))
	assert.False(t, RequiresReviewByConvention("office", "paper"))
}
