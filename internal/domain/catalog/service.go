package catalog

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Service enforces the catalog rules on top of a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ListEnabled returns the enabled methods of the kind, default first, then by
// sort order and name.
func (s *Service) ListEnabled(ctx context.Context, kind Kind) ([]Method, error) {
	all, err := s.repo.List(ctx, kind)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s methods", kind)
	}

	out := make([]Method, 0, len(all))
	for _, m := range all {
		if m.IsEnabled {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b Method) int {
		if a.IsDefault != b.IsDefault {
			if a.IsDefault {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.SortOrder, b.SortOrder); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Get returns a method regardless of whether it is enabled.
func (s *Service) Get(ctx context.Context, kind Kind, id string) (*Method, error) {
	return s.repo.Get(ctx, kind, id)
}

// EnabledMethod returns the method if it exists and is enabled.
func (s *Service) EnabledMethod(ctx context.Context, kind Kind, id string) (*Method, error) {
	m, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !m.IsEnabled {
		return nil, ErrMethodDisabled
	}
	return m, nil
}

// Create adds a method of the kind. The first method of a kind always becomes
// the default; later methods requesting IsDefault replace the current default
// atomically with the insert.
func (s *Service) Create(ctx context.Context, kind Kind, m Method) (*Method, error) {
	if strings.TrimSpace(m.Name) == "" {
		return nil, errors.Wrap(ErrInvalidMethod, "name is required")
	}
	if m.Price.IsNegative() {
		return nil, errors.Wrap(ErrInvalidMethod, "price must not be negative")
	}

	n, err := s.repo.Count(ctx, kind)
	if err != nil {
		return nil, errors.Wrapf(err, "count %s methods", kind)
	}

	wantDefault := m.IsDefault || n == 0
	if wantDefault && !m.IsEnabled {
		return nil, errors.Wrap(ErrMethodDisabled, "default method must be enabled")
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Kind = kind
	m.CreatedAt = s.now()
	m.IsDefault = wantDefault

	if err := s.repo.Create(ctx, &m); err != nil {
		return nil, errors.Wrapf(err, "create %s method", kind)
	}
	return &m, nil
}

// SetDefault makes id the only default method of its kind.
func (s *Service) SetDefault(ctx context.Context, kind Kind, id string) error {
	m, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if !m.IsEnabled {
		return ErrMethodDisabled
	}
	if m.IsDefault {
		return nil
	}
	return s.repo.SetDefault(ctx, kind, id)
}

// Delete removes a method unless it is the last one of its kind or the
// current default.
func (s *Service) Delete(ctx context.Context, kind Kind, id string) error {
	m, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return err
	}

	n, err := s.repo.Count(ctx, kind)
	if err != nil {
		return errors.Wrapf(err, "count %s methods", kind)
	}
	if n <= 1 {
		return ErrLastMethod
	}
	if m.IsDefault {
		return ErrDefaultMethod
	}
	return s.repo.Delete(ctx, kind, id)
}
