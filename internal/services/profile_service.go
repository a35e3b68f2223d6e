package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"

	"github.com/yoockh/closingdesk/internal/cache"
	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/models"
	pgrepo "github.com/yoockh/closingdesk/internal/repositories/postgres"
	"github.com/yoockh/closingdesk/internal/utils"
)

// MaxOnboardingStep is the last screen of the onboarding flow.
const MaxOnboardingStep = 4

type ContactUpdate struct {
	FullName      *string          `json:"full_name,omitempty"`
	Phone         *string          `json:"phone,omitempty"`
	CompanyName   *string          `json:"company_name,omitempty"`
	ServiceStates *[]string        `json:"service_states,omitempty"`
	Metadata      *json.RawMessage `json:"metadata,omitempty"`
}

type OnboardingStepInput struct {
	Step int     `json:"step"`
	Role *string `json:"role,omitempty"`
	ContactUpdate
}

type ProfileService interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	OnboardingCompleted(ctx context.Context, userID string) (bool, error)
	EnsureProfile(ctx context.Context, id models.Identity) (p *models.Profile, created bool, err error)
	UpdateContact(ctx context.Context, userID string, in ContactUpdate) (*models.Profile, error)
	SaveOnboardingStep(ctx context.Context, userID string, in OnboardingStepInput) (*models.Profile, error)
	CompleteOnboarding(ctx context.Context, userID string) (*models.Profile, error)
}

type profileService struct {
	profiles pgrepo.ProfileRepository
	events   events.Publisher
	cache    cache.Cache
	now      func() time.Time
}

// NewProfileService wires the profile store. events and c may be nil.
func NewProfileService(profiles pgrepo.ProfileRepository, ev events.Publisher, c cache.Cache) ProfileService {
	return &profileService{profiles: profiles, events: ev, cache: c, now: time.Now}
}

func (s *profileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "ProfileService.Get"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "profile not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get profile", err)
	}
	return p, nil
}

func (s *profileService) OnboardingCompleted(ctx context.Context, userID string) (bool, error) {
	const op = "ProfileService.OnboardingCompleted"

	if userID == "" {
		return false, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	done, err := s.profiles.OnboardingCompleted(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return false, utils.E(utils.CodeNotFound, op, "profile not found", err)
		}
		return false, utils.E(utils.CodeInternal, op, "failed to read onboarding flag", err)
	}
	return done, nil
}

// EnsureProfile is the fallback for a missing database trigger: it creates the
// row on first sign-in and leaves an existing one untouched.
func (s *profileService) EnsureProfile(ctx context.Context, id models.Identity) (*models.Profile, bool, error) {
	const op = "ProfileService.EnsureProfile"

	if id.ID == "" {
		return nil, false, utils.E(utils.CodeInvalidArgument, op, "identity id is required", nil)
	}

	now := s.now().UTC()
	row := &models.Profile{
		ID:             id.ID,
		Email:          id.Email,
		OnboardingStep: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := s.profiles.CreateIfMissing(ctx, row)
	if err != nil {
		return nil, false, utils.E(utils.CodeInternal, op, "failed to provision profile", err)
	}
	if created {
		s.invalidateStats(ctx)
	}

	p, err := s.Get(ctx, id.ID)
	if err != nil {
		return nil, created, err
	}
	return p, created, nil
}

func (s *profileService) UpdateContact(ctx context.Context, userID string, in ContactUpdate) (*models.Profile, error) {
	const op = "ProfileService.UpdateContact"

	fields, err := contactFields(in)
	if err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}
	if len(fields) == 0 {
		return s.Get(ctx, userID)
	}
	return s.write(ctx, op, userID, fields, false)
}

func (s *profileService) SaveOnboardingStep(ctx context.Context, userID string, in OnboardingStepInput) (*models.Profile, error) {
	const op = "ProfileService.SaveOnboardingStep"

	if in.Step < 1 || in.Step > MaxOnboardingStep {
		return nil, utils.E(utils.CodeInvalidArgument, op, "step is out of range", nil)
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.OnboardingCompleted {
		return nil, utils.E(utils.CodeConflict, op, "onboarding already completed", nil)
	}

	fields, err := contactFields(in.ContactUpdate)
	if err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}

	role := current.Kind
	if in.Role != nil {
		r, ok := models.ParseRole(*in.Role)
		if !ok || r == models.RoleAdmin {
			return nil, utils.E(utils.CodeInvalidArgument, op, "unknown role", nil)
		}
		if current.RoleLocked() && r != current.Kind {
			return nil, utils.E(utils.CodeConflict, op, "role can no longer be changed", nil)
		}
		if r != current.Kind {
			fields["role"] = string(r)
			fields["profile_type"] = string(r)
		}
		role = r
	}
	if in.Step > 1 && !role.Known() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "choose a role before continuing", nil)
	}

	fields["onboarding_step"] = in.Step
	return s.write(ctx, op, userID, fields, true)
}

func (s *profileService) CompleteOnboarding(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "ProfileService.CompleteOnboarding"

	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.OnboardingCompleted {
		return current, nil
	}
	if !current.Kind.Known() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "choose a role before completing onboarding", nil)
	}
	return s.write(ctx, op, userID, map[string]any{
		"onboarding_completed": true,
		"onboarding_step":      MaxOnboardingStep,
	}, true)
}

func (s *profileService) write(ctx context.Context, op, userID string, fields map[string]any, statsChanged bool) (*models.Profile, error) {
	fields["updated_at"] = s.now().UTC()
	if err := s.profiles.Update(ctx, userID, fields); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "profile not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to update profile", err)
	}
	if statsChanged {
		s.invalidateStats(ctx)
	}
	publishProfileUpdated(ctx, s.events, userID, op)
	return s.Get(ctx, userID)
}

func (s *profileService) invalidateStats(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Del(ctx, statsCacheKey)
	}
}

func publishProfileUpdated(ctx context.Context, pub events.Publisher, userID, reason string) {
	if pub == nil {
		return
	}
	_ = pub.Publish(ctx, models.AuthEvent{Type: models.EventProfileUpdated, UserID: userID, Reason: reason})
}

func contactFields(in ContactUpdate) (map[string]any, error) {
	fields := map[string]any{}
	if in.FullName != nil {
		fields["full_name"] = strings.TrimSpace(*in.FullName)
	}
	if in.Phone != nil {
		fields["phone"] = strings.TrimSpace(*in.Phone)
	}
	if in.CompanyName != nil {
		fields["company_name"] = strings.TrimSpace(*in.CompanyName)
	}
	if in.ServiceStates != nil {
		states := make([]string, 0, len(*in.ServiceStates))
		for _, st := range *in.ServiceStates {
			st = strings.ToUpper(strings.TrimSpace(st))
			if len(st) != 2 {
				return nil, errors.New("service_states must be two-letter state codes")
			}
			states = append(states, st)
		}
		fields["service_states"] = pq.StringArray(states)
	}
	if in.Metadata != nil {
		if !json.Valid(*in.Metadata) {
			return nil, errors.New("metadata must be valid JSON")
		}
		fields["metadata"] = datatypes.JSON(*in.Metadata)
	}
	return fields, nil
}
