package conversation

import (
	"context"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/clock"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/ids"
)

type Service struct {
	repo  *Repo
	clock clock.Clock
}

func NewService(repo *Repo, c clock.Clock) *Service {
	if c == nil {
		c = clock.Real
	}
	return &Service{repo: repo, clock: c}
}

func (s *Service) Create(ctx context.Context, ownerUserID string) (Conversation, error) {
	now := clock.NowMs(s.clock)
	return s.repo.CreateConversation(ctx, Conversation{
		ID:          ids.New(),
		OwnerUserID: ownerUserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	return s.repo.GetConversation(ctx, id)
}

// SetTitle is the title generator's write path: idempotent, a no-op
// once a title is already set.
func (s *Service) SetTitle(ctx context.Context, conversationID, title string) error {
	return s.repo.SetTitleIfUnset(ctx, conversationID, title)
}

// IsOwnerOrAdmin is the authorization boundary: every route that
// operates on a conversation calls this before doing anything else.
func (s *Service) IsOwnerOrAdmin(conv Conversation, callerUserID string, callerIsAdmin bool) bool {
	return callerIsAdmin || conv.OwnerUserID == callerUserID
}

func (s *Service) Repo() *Repo {
	return s.repo
}
