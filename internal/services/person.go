package services

import (
	"context"

	"github.com/google/uuid"

	personrepo "github.com/heimdex/heimdex-backend/internal/data/repos/persons"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/jobs"
	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// PersonService is the read-side of the person subsystem plus the trigger
// for the person_photo job that refreshes a person's query embedding in the
// vector store. Reference-photo management itself lives elsewhere.
type PersonService interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]*types.Person, error)
	Get(ctx context.Context, tenantID, personID uuid.UUID) (*types.Person, error)
	RefreshEmbedding(ctx context.Context, tenantID, personID uuid.UUID) (*types.JobRun, error)
}

type personService struct {
	log      *logger.Logger
	persons  personrepo.PersonRepo
	enqueuer jobs.Enqueuer
}

func NewPersonService(log *logger.Logger, persons personrepo.PersonRepo, enqueuer jobs.Enqueuer) PersonService {
	return &personService{
		log:      log.With("service", "PersonService"),
		persons:  persons,
		enqueuer: enqueuer,
	}
}

func (s *personService) List(ctx context.Context, tenantID uuid.UUID) ([]*types.Person, error) {
	return s.persons.ListByTenant(ctx, nil, tenantID)
}

func (s *personService) Get(ctx context.Context, tenantID, personID uuid.UUID) (*types.Person, error) {
	person, err := s.persons.GetByID(ctx, nil, tenantID, personID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, perrors.NotFoundf("person %s", personID)
	}
	return person, nil
}

func (s *personService) RefreshEmbedding(ctx context.Context, tenantID, personID uuid.UUID) (*types.JobRun, error) {
	if _, err := s.Get(ctx, tenantID, personID); err != nil {
		return nil, err
	}
	run, err := s.enqueuer.EnqueuePersonPhoto(ctx, tenantID, personID)
	if err != nil {
		return nil, err
	}
	s.log.Info("person embedding refresh enqueued", "person_id", personID, "job_id", run.ID)
	return run, nil
}
