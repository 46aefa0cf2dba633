package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xymarket/node/internal/models"
)

// ErrValidation wraps request-shape failures so the handler can map them
// to 422 without string matching.
var ErrValidation = errors.New("invalid registration request")

type Service interface {
	Register(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationResponse, error)
	ListAgents(ctx context.Context, limit, offset int) ([]*models.AgentProfile, error)
}

type service struct {
	repo   *Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo *Repository, logger *slog.Logger) *service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{repo: repo, logger: logger, now: time.Now}
}

var _ Service = (*service)(nil)

// Register validates the request, mints a profile (assigning an agent_id
// when the caller omitted one) and stores it. Conflicts pass through as
// *ConflictError.
func (s *service) Register(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	profile := models.NewAgentProfile(req, s.now())
	if err := s.repo.Create(profile); err != nil {
		return nil, err
	}

	s.logger.Info("agent registered",
		slog.String("agent_id", profile.AgentID),
		slog.String("agent_name", profile.AgentName),
		slog.String("base_url", profile.BaseURL),
	)
	return &models.RegistrationResponse{
		Status:  "success",
		AgentID: profile.AgentID,
		Version: profile.Version,
	}, nil
}

func (s *service) ListAgents(ctx context.Context, limit, offset int) ([]*models.AgentProfile, error) {
	return s.repo.List(limit, offset), nil
}
