package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	methods     []Method
	setDefaults int
}

func (r *memRepo) List(_ context.Context, kind Kind) ([]Method, error) {
	var out []Method
	for _, m := range r.methods {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) Get(_ context.Context, kind Kind, id string) (*Method, error) {
	for _, m := range r.methods {
		if m.Kind == kind && m.ID == id {
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) Create(_ context.Context, m *Method) error {
	if m.IsDefault {
		for i := range r.methods {
			if r.methods[i].Kind == m.Kind {
				r.methods[i].IsDefault = false
			}
		}
	}
	r.methods = append(r.methods, *m)
	return nil
}

func (r *memRepo) SetDefault(_ context.Context, kind Kind, id string) error {
	r.setDefaults++
	found := false
	for i := range r.methods {
		if r.methods[i].Kind != kind {
			continue
		}
		r.methods[i].IsDefault = r.methods[i].ID == id
		found = found || r.methods[i].ID == id
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (r *memRepo) Delete(_ context.Context, kind Kind, id string) error {
	for i, m := range r.methods {
		if m.Kind == kind && m.ID == id {
			r.methods = append(r.methods[:i], r.methods[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (r *memRepo) Count(_ context.Context, kind Kind) (int, error) {
	n := 0
	for _, m := range r.methods {
		if m.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) defaults(kind Kind) []string {
	var ids []string
	for _, m := range r.methods {
		if m.Kind == kind && m.IsDefault {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func method(id, name string, sortOrder int) Method {
	return Method{ID: id, Name: name, Price: decimal.RequireFromString("5.99"), IsEnabled: true, SortOrder: sortOrder}
}

func seeded(t *testing.T) (*Service, *memRepo) {
	t.Helper()
	repo := &memRepo{}
	svc := NewService(repo)
	ctx := context.Background()
	for _, m := range []Method{
		method("std", "Standard", 2),
		method("exp", "Express", 1),
		method("ovn", "Overnight", 1),
	} {
		_, err := svc.Create(ctx, KindShipping, m)
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, KindPayment, method("card", "Card", 0))
	require.NoError(t, err)
	return svc, repo
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("shipping")
	require.NoError(t, err)
	assert.Equal(t, KindShipping, k)

	_, err = ParseKind("pickup")
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestService_Create(t *testing.T) {
	t.Run("first method becomes default", func(t *testing.T) {
		_, repo := seeded(t)
		assert.Equal(t, []string{"std"}, repo.defaults(KindShipping))
		assert.Equal(t, []string{"card"}, repo.defaults(KindPayment))
	})

	t.Run("requested default is promoted", func(t *testing.T) {
		svc, repo := seeded(t)
		m := method("pickup", "Pickup", 9)
		m.IsDefault = true

		got, err := svc.Create(context.Background(), KindShipping, m)
		require.NoError(t, err)
		assert.True(t, got.IsDefault)
		assert.Equal(t, []string{"pickup"}, repo.defaults(KindShipping))
		assert.Zero(t, repo.setDefaults, "promotion happens in the insert")
	})

	t.Run("generates id", func(t *testing.T) {
		svc, _ := seeded(t)
		got, err := svc.Create(context.Background(), KindPayment, Method{Name: "Invoice", IsEnabled: true})
		require.NoError(t, err)
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, KindPayment, got.Kind)
	})

	t.Run("validation", func(t *testing.T) {
		svc, _ := seeded(t)
		_, err := svc.Create(context.Background(), KindShipping, Method{Name: " "})
		require.ErrorIs(t, err, ErrInvalidMethod)

		_, err = svc.Create(context.Background(), KindShipping, Method{Name: "Refund", Price: decimal.NewFromInt(-1)})
		require.ErrorIs(t, err, ErrInvalidMethod)
	})

	t.Run("disabled first method", func(t *testing.T) {
		svc := NewService(&memRepo{})
		_, err := svc.Create(context.Background(), KindShipping, Method{Name: "Freight"})
		require.ErrorIs(t, err, ErrMethodDisabled)
	})
}

func TestService_ListEnabled(t *testing.T) {
	svc, repo := seeded(t)
	repo.methods = append(repo.methods, Method{ID: "old", Kind: KindShipping, Name: "Old"})

	got, err := svc.ListEnabled(context.Background(), KindShipping)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	// Default first, then sort order, then name.
	assert.Equal(t, []string{"std", "exp", "ovn"}, ids)
}

func TestService_SetDefault_LeavesExactlyOneDefault(t *testing.T) {
	svc, repo := seeded(t)
	ctx := context.Background()

	for _, id := range []string{"exp", "ovn", "std", "std"} {
		require.NoError(t, svc.SetDefault(ctx, KindShipping, id))
		assert.Equal(t, []string{id}, repo.defaults(KindShipping))
	}
	assert.Equal(t, []string{"card"}, repo.defaults(KindPayment), "other kinds untouched")
}

func TestService_SetDefault_Errors(t *testing.T) {
	svc, repo := seeded(t)
	repo.methods = append(repo.methods, Method{ID: "off", Kind: KindShipping, Name: "Off"})

	require.ErrorIs(t, svc.SetDefault(context.Background(), KindShipping, "missing"), ErrNotFound)
	require.ErrorIs(t, svc.SetDefault(context.Background(), KindShipping, "off"), ErrMethodDisabled)
	require.ErrorIs(t, svc.SetDefault(context.Background(), KindPayment, "std"), ErrNotFound)
	assert.Equal(t, []string{"std"}, repo.defaults(KindShipping))
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("last method", func(t *testing.T) {
		svc, _ := seeded(t)
		require.ErrorIs(t, svc.Delete(ctx, KindPayment, "card"), ErrLastMethod)
	})

	t.Run("default method", func(t *testing.T) {
		svc, _ := seeded(t)
		require.ErrorIs(t, svc.Delete(ctx, KindShipping, "std"), ErrDefaultMethod)
	})

	t.Run("after promoting another", func(t *testing.T) {
		svc, repo := seeded(t)
		require.NoError(t, svc.SetDefault(ctx, KindShipping, "exp"))
		require.NoError(t, svc.Delete(ctx, KindShipping, "std"))

		n, _ := repo.Count(ctx, KindShipping)
		assert.Equal(t, 2, n)
	})

	t.Run("unknown", func(t *testing.T) {
		svc, _ := seeded(t)
		require.ErrorIs(t, svc.Delete(ctx, KindShipping, "nope"), ErrNotFound)
	})
}

func TestService_EnabledMethod(t *testing.T) {
	svc, repo := seeded(t)
	repo.methods = append(repo.methods, Method{ID: "off", Kind: KindShipping, Name: "Off"})

	m, err := svc.EnabledMethod(context.Background(), KindShipping, "exp")
	require.NoError(t, err)
	assert.Equal(t, "Express", m.Name)

	_, err = svc.EnabledMethod(context.Background(), KindShipping, "off")
	require.ErrorIs(t, err, ErrMethodDisabled)
}
