package token

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/model"
)

type fakeTokenRepo struct {
	seqs map[string]int
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{seqs: make(map[string]int)}
}

func (f *fakeTokenRepo) NextSeq(_ context.Context, groupID uuid.UUID, day string) (int, error) {
	key := groupID.String() + "/" + day
	f.seqs[key]++
	return f.seqs[key], nil
}

func TestIssueSequence(t *testing.T) {
	repo := newFakeTokenRepo()
	svc := NewService(repo)

	cardiology := &model.ClinicGroup{
		Base:        model.Base{ID: uuid.New()},
		Name:        "cardiology",
		TokenPrefix: "C",
	}

	first, err := svc.Issue(context.Background(), cardiology)
	require.NoError(t, err)
	assert.Equal(t, "C1", first.Number)
	assert.Equal(t, 1, first.Seq)

	second, err := svc.Issue(context.Background(), cardiology)
	require.NoError(t, err)
	assert.Equal(t, "C2", second.Number)
	assert.Equal(t, 2, second.Seq)
}

func TestIssueIsolatedPerGroup(t *testing.T) {
	repo := newFakeTokenRepo()
	svc := NewService(repo)

	cardiology := &model.ClinicGroup{Base: model.Base{ID: uuid.New()}, TokenPrefix: "C"}
	dental := &model.ClinicGroup{Base: model.Base{ID: uuid.New()}, TokenPrefix: "D"}

	c1, err := svc.Issue(context.Background(), cardiology)
	require.NoError(t, err)
	d1, err := svc.Issue(context.Background(), dental)
	require.NoError(t, err)
	c2, err := svc.Issue(context.Background(), cardiology)
	require.NoError(t, err)

	assert.Equal(t, "C1", c1.Number)
	assert.Equal(t, "D1", d1.Number)
	assert.Equal(t, "C2", c2.Number)
}

func TestIssueResetsPerDay(t *testing.T) {
	repo := newFakeTokenRepo()
	svc := NewService(repo)

	group := &model.ClinicGroup{Base: model.Base{ID: uuid.New()}, TokenPrefix: "C"}

	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day }

	tok, err := svc.Issue(context.Background(), group)
	require.NoError(t, err)
	tok2, err := svc.Issue(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, "C1", tok.Number)
	assert.Equal(t, "C2", tok2.Number)

	svc.now = func() time.Time { return day.Add(24 * time.Hour) }
	next, err := svc.Issue(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, "C1", next.Number, "sequence starts over on a new day")
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "C1", Format("C", 1))
	assert.Equal(t, "ENT42", Format("ENT", 42))
}
