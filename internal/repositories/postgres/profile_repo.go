package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/utils"
)

type ProfileFilter struct {
	Role      models.Role
	Completed *bool
	Limit     int
	Offset    int
}

// RoleBucket is one row of the grouped profile count.
type RoleBucket struct {
	Role                string
	ProfileType         string
	OnboardingCompleted bool
	Count               int64
}

type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	OnboardingCompleted(ctx context.Context, id string) (bool, error)
	CreateIfMissing(ctx context.Context, p *models.Profile) (created bool, err error)
	Update(ctx context.Context, id string, fields map[string]any) error
	List(ctx context.Context, f ProfileFilter) ([]models.Profile, int64, error)
	CountBuckets(ctx context.Context) ([]RoleBucket, error)
}

type profileRepo struct {
	db *gorm.DB
}

func NewProfileRepo(db *gorm.DB) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepo) OnboardingCompleted(ctx context.Context, id string) (bool, error) {
	var row struct{ OnboardingCompleted bool }
	err := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Select("onboarding_completed").
		Where("id = ?", id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, utils.ErrNotFound
	}
	return row.OnboardingCompleted, err
}

func (r *profileRepo) CreateIfMissing(ctx context.Context, p *models.Profile) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(p)
	return res.RowsAffected > 0, res.Error
}

func (r *profileRepo) Update(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *profileRepo) List(ctx context.Context, f ProfileFilter) ([]models.Profile, int64, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&models.Profile{})
	if f.Role.Known() {
		// same precedence as models.ResolveRole, legacy spellings included
		q = q.Where(
			"LOWER(TRIM(COALESCE(profile_type, ''))) IN ? OR (LOWER(TRIM(COALESCE(profile_type, ''))) NOT IN ? AND LOWER(TRIM(COALESCE(role, ''))) IN ?)",
			f.Role.Spellings(), models.RoleSpellings(), f.Role.Spellings(),
		)
	}
	if f.Completed != nil {
		q = q.Where("onboarding_completed = ?", *f.Completed)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Profile
	err := q.Order("created_at DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&rows).Error
	return rows, total, err
}

func (r *profileRepo) CountBuckets(ctx context.Context) ([]RoleBucket, error) {
	var out []RoleBucket
	err := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Select("COALESCE(role, '') AS role, COALESCE(profile_type, '') AS profile_type, onboarding_completed, COUNT(*) AS count").
		Group("role, profile_type, onboarding_completed").
		Scan(&out).Error
	return out, err
}
