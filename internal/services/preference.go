package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	prefrepo "github.com/heimdex/heimdex-backend/internal/data/repos/prefs"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/search"
)

// PreferenceView is what the API returns: the saved values plus the
// effective defaults for anything the tenant never set.
type PreferenceView struct {
	Weights      map[string]float64 `json:"channel_weights,omitempty"`
	FusionMethod string             `json:"fusion_method,omitempty"`
	VisualMode   string             `json:"visual_mode,omitempty"`
}

// UpdatePreferenceInput carries the PUT body. Nil maps/empty strings leave
// the stored value untouched.
type UpdatePreferenceInput struct {
	Weights      map[string]float64 `json:"channel_weights,omitempty"`
	FusionMethod string             `json:"fusion_method,omitempty"`
	VisualMode   string             `json:"visual_mode,omitempty"`
}

// PreferenceService reads and writes a tenant's saved search settings. The
// weight shape rules are the resolver's: known channel names, each weight
// in [0,1], at least one positive.
type PreferenceService interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*PreferenceView, error)
	Update(ctx context.Context, tenantID uuid.UUID, in UpdatePreferenceInput) (*PreferenceView, error)
}

type preferenceService struct {
	log   *logger.Logger
	prefs prefrepo.SearchPreferenceRepo
}

func NewPreferenceService(log *logger.Logger, prefs prefrepo.SearchPreferenceRepo) PreferenceService {
	return &preferenceService{
		log:   log.With("service", "PreferenceService"),
		prefs: prefs,
	}
}

func (s *preferenceService) Get(ctx context.Context, tenantID uuid.UUID) (*PreferenceView, error) {
	pref, err := s.prefs.GetByTenant(ctx, nil, tenantID)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		return &PreferenceView{}, nil
	}
	return viewFromRow(pref), nil
}

func (s *preferenceService) Update(ctx context.Context, tenantID uuid.UUID, in UpdatePreferenceInput) (*PreferenceView, error) {
	if err := search.ValidateUserWeights(in.Weights); err != nil {
		return nil, err
	}
	switch in.FusionMethod {
	case "", search.FusionMinMaxMean, search.FusionRRF:
	default:
		return nil, perrors.Invalid("unknown fusion_method %q", in.FusionMethod)
	}
	switch in.VisualMode {
	case "", search.VisualModeRecall, search.VisualModeRerank, search.VisualModeSkip, search.VisualModeAuto:
	default:
		return nil, perrors.Invalid("unknown visual_mode %q", in.VisualMode)
	}

	existing, err := s.prefs.GetByTenant(ctx, nil, tenantID)
	if err != nil {
		return nil, err
	}
	row := existing
	if row == nil {
		row = &types.SearchPreference{ID: uuid.New(), TenantID: tenantID}
	}
	if in.Weights != nil {
		raw, err := json.Marshal(in.Weights)
		if err != nil {
			return nil, perrors.Invalid("unencodable channel_weights: %v", err)
		}
		row.Weights = datatypes.JSON(raw)
	}
	if in.FusionMethod != "" {
		row.FusionMethod = in.FusionMethod
	}
	if in.VisualMode != "" {
		row.VisualMode = in.VisualMode
	}

	saved, err := s.prefs.Upsert(ctx, nil, row)
	if err != nil {
		return nil, err
	}
	s.log.Info("search preferences updated", "tenant_id", tenantID)
	return viewFromRow(saved), nil
}

func viewFromRow(pref *types.SearchPreference) *PreferenceView {
	view := &PreferenceView{
		FusionMethod: pref.FusionMethod,
		VisualMode:   pref.VisualMode,
	}
	if len(pref.Weights) > 0 {
		var weights map[string]float64
		if err := json.Unmarshal(pref.Weights, &weights); err == nil {
			view.Weights = weights
		}
	}
	return view
}
