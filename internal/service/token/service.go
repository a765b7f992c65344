package token

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
)

// dayFormat scopes the token sequence: counters reset per calendar day.
const dayFormat = "2006-01-02"

// Service issues sequential, human-readable tokens per clinic group.
// The sequence itself lives in the store so numbers stay unique and
// strictly increasing across instances.
type Service struct {
	repo repository.TokenRepository
	now  func() time.Time
}

func NewService(repo repository.TokenRepository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// Token is an issued token: the sequence number plus its formatted
// display form, e.g. C1 for the first cardiology patient of the day.
type Token struct {
	Number string
	Seq    int
}

func (s *Service) Issue(ctx context.Context, group *model.ClinicGroup) (*Token, error) {
	day := s.now().Format(dayFormat)
	seq, err := s.repo.NextSeq(ctx, group.ID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token for group %s: %w", group.ID, err)
	}
	return &Token{
		Number: Format(group.TokenPrefix, seq),
		Seq:    seq,
	}, nil
}

// Format renders the display form of a token.
func Format(prefix string, seq int) string {
	return fmt.Sprintf("%s%d", prefix, seq)
}
