package services

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/closingdesk/internal/cache"
	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/models"
	mongorepo "github.com/yoockh/closingdesk/internal/repositories/mongo"
	pgrepo "github.com/yoockh/closingdesk/internal/repositories/postgres"
	"github.com/yoockh/closingdesk/internal/utils"
)

const (
	statsCacheKey = "admin:stats"
	statsTTL      = 30 * time.Second
)

type AdminProfileUpdate struct {
	Role                *string `json:"role,omitempty"`
	OnboardingCompleted *bool   `json:"onboarding_completed,omitempty"`
	OnboardingStep      *int    `json:"onboarding_step,omitempty"`
}

type ProfilePage struct {
	Profiles []models.Profile `json:"profiles"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

type Stats struct {
	Total             int64                 `json:"total"`
	ByRole            map[models.Role]int64 `json:"by_role"`
	Unassigned        int64                 `json:"unassigned"`
	OnboardingDone    int64                 `json:"onboarding_completed"`
	OnboardingPending int64                 `json:"onboarding_pending"`
}

type AdminService interface {
	ListProfiles(ctx context.Context, f pgrepo.ProfileFilter) (*ProfilePage, error)
	UpdateProfile(ctx context.Context, adminID, targetID string, in AdminProfileUpdate) (*models.Profile, error)
	Stats(ctx context.Context) (*Stats, error)
	AuthEvents(ctx context.Context, userID string, limit int64) ([]models.AuthEvent, error)
}

type adminService struct {
	profiles pgrepo.ProfileRepository
	audit    mongorepo.AuthEventRepository
	events   events.Publisher
	cache    cache.Cache
	now      func() time.Time
}

// NewAdminService wires admin oversight. audit, ev and c may be nil.
func NewAdminService(profiles pgrepo.ProfileRepository, audit mongorepo.AuthEventRepository, ev events.Publisher, c cache.Cache) AdminService {
	return &adminService{profiles: profiles, audit: audit, events: ev, cache: c, now: time.Now}
}

func (s *adminService) ListProfiles(ctx context.Context, f pgrepo.ProfileFilter) (*ProfilePage, error) {
	const op = "AdminService.ListProfiles"

	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	rows, total, err := s.profiles.List(ctx, f)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list profiles", err)
	}
	if rows == nil {
		rows = []models.Profile{}
	}
	return &ProfilePage{Profiles: rows, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (s *adminService) UpdateProfile(ctx context.Context, adminID, targetID string, in AdminProfileUpdate) (*models.Profile, error) {
	const op = "AdminService.UpdateProfile"

	if targetID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "profile id is required", nil)
	}

	fields := map[string]any{}
	if in.Role != nil {
		r, ok := models.ParseRole(*in.Role)
		if !ok {
			return nil, utils.E(utils.CodeInvalidArgument, op, "unknown role", nil)
		}
		if targetID == adminID && r != models.RoleAdmin {
			return nil, utils.E(utils.CodeForbidden, op, "admins cannot demote themselves", nil)
		}
		fields["role"] = string(r)
		fields["profile_type"] = string(r)
	}
	if in.OnboardingCompleted != nil {
		fields["onboarding_completed"] = *in.OnboardingCompleted
	}
	if in.OnboardingStep != nil {
		if *in.OnboardingStep < 1 || *in.OnboardingStep > MaxOnboardingStep {
			return nil, utils.E(utils.CodeInvalidArgument, op, "onboarding_step is out of range", nil)
		}
		fields["onboarding_step"] = *in.OnboardingStep
	}
	if len(fields) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "nothing to update", nil)
	}
	fields["updated_at"] = s.now().UTC()

	if err := s.profiles.Update(ctx, targetID, fields); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "profile not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to update profile", err)
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, statsCacheKey)
	}
	publishProfileUpdated(ctx, s.events, targetID, op)

	p, err := s.profiles.GetByID(ctx, targetID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to reload profile", err)
	}
	return p, nil
}

func (s *adminService) Stats(ctx context.Context) (*Stats, error) {
	const op = "AdminService.Stats"

	st, err := cache.Remember(ctx, s.cache, statsCacheKey, statsTTL, s.computeStats)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to compute stats", err)
	}
	return &st, nil
}

func (s *adminService) computeStats(ctx context.Context) (Stats, error) {
	buckets, err := s.profiles.CountBuckets(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByRole: map[models.Role]int64{}}
	for _, r := range models.Roles() {
		st.ByRole[r] = 0
	}
	for _, b := range buckets {
		st.Total += b.Count
		if role := models.ResolveRole(b.ProfileType, b.Role); role.Known() {
			st.ByRole[role] += b.Count
		} else {
			st.Unassigned += b.Count
		}
		if b.OnboardingCompleted {
			st.OnboardingDone += b.Count
		} else {
			st.OnboardingPending += b.Count
		}
	}
	return st, nil
}

func (s *adminService) AuthEvents(ctx context.Context, userID string, limit int64) ([]models.AuthEvent, error) {
	const op = "AdminService.AuthEvents"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if s.audit == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "audit log is not configured", nil)
	}
	out, err := s.audit.ListByUser(ctx, userID, mongorepo.ClampEventLimit(limit))
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list auth events", err)
	}
	return out, nil
}
