package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRoleSource serves roles from memory and counts lookups
type fakeRoleSource struct {
	roles   map[int64]*Role
	lookups int
}

func (f *fakeRoleSource) GetRole(_ context.Context, roleID int64) (*Role, error) {
	f.lookups++
	role, ok := f.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	return role, nil
}

func seedSource() *fakeRoleSource {
	src := &fakeRoleSource{roles: map[int64]*Role{}}
	for i, role := range DefaultRoles() {
		r := role
		r.ID = int64(i + 1)
		src.roles[r.ID] = &r
	}
	return src
}

func principalWithRole(src *fakeRoleSource, name string) *Principal {
	for id, role := range src.roles {
		if role.Name == name {
			return &Principal{ID: 100, RoleID: id, RoleName: name, Active: true}
		}
	}
	return nil
}

func TestChecker_FailsClosed(t *testing.T) {
	src := seedSource()
	checker := NewChecker(src, 16, time.Minute)
	ctx := context.Background()

	t.Run("nil principal", func(t *testing.T) {
		ok, err := checker.Allowed(ctx, nil, CategoryResources, ActionRead, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("inactive principal", func(t *testing.T) {
		p := principalWithRole(src, RoleDeveloper)
		p.Active = false
		ok, err := checker.Allowed(ctx, p, CategoryResources, ActionRead, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing role", func(t *testing.T) {
		p := &Principal{ID: 5, RoleID: 999, Active: true}
		ok, err := checker.Allowed(ctx, p, CategoryResources, ActionRead, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestChecker_AdminBypassesScope(t *testing.T) {
	src := seedSource()
	checker := NewChecker(src, 16, time.Minute)
	ctx := context.Background()
	admin := principalWithRole(src, RoleAdmin)

	ok, err := checker.Allowed(ctx, admin, CategoryResources, ActionDelete, &ObjectRef{
		Category:    CategoryResources,
		PublisherID: 42, // not the admin
		Published:   false,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChecker_PermissionMap(t *testing.T) {
	src := seedSource()
	checker := NewChecker(src, 16, time.Minute)
	ctx := context.Background()

	// Developers cannot publish resources regardless of scope
	dev := principalWithRole(src, RoleDeveloper)
	ok, err := checker.Allowed(ctx, dev, CategoryResources, ActionPublish, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// Reviewers cannot create resources
	reviewer := principalWithRole(src, RoleReviewer)
	ok, err = checker.Allowed(ctx, reviewer, CategoryResources, ActionCreate, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecker_PublisherScope(t *testing.T) {
	src := seedSource()
	checker := NewChecker(src, 16, time.Minute)
	ctx := context.Background()
	publisher := principalWithRole(src, RolePublisher)

	tests := []struct {
		name   string
		action Action
		obj    ObjectRef
		want   bool
	}{
		{"update own draft", ActionUpdate, ObjectRef{PublisherID: publisher.ID}, true},
		{"update someone else's", ActionUpdate, ObjectRef{PublisherID: 42, Published: true}, false},
		{"read someone else's published", ActionRead, ObjectRef{PublisherID: 42, Published: true}, true},
		{"read someone else's draft", ActionRead, ObjectRef{PublisherID: 42, Published: false}, false},
		{"delete own", ActionDelete, ObjectRef{PublisherID: publisher.ID}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := tt.obj
			obj.Category = CategoryResources
			ok, err := checker.Allowed(ctx, publisher, CategoryResources, tt.action, &obj)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestChecker_DeveloperScope(t *testing.T) {
	src := seedSource()
	checker := NewChecker(src, 16, time.Minute)
	ctx := context.Background()
	dev := principalWithRole(src, RoleDeveloper)

	t.Run("published distribution readable", func(t *testing.T) {
		ok, err := checker.Allowed(ctx, dev, CategoryDistributions, ActionRead, &ObjectRef{
			Category: CategoryDistributions, PublisherID: 42, Published: true,
		})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unpublished distribution invisible", func(t *testing.T) {
		ok, err := checker.Allowed(ctx, dev, CategoryDistributions, ActionRead, &ObjectRef{
			Category: CategoryDistributions, PublisherID: 42, Published: false,
		})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("own access request readable", func(t *testing.T) {
		ok, err := checker.Allowed(ctx, dev, CategoryAccessRequests, ActionRead, &ObjectRef{
			Category: CategoryAccessRequests, RequesterID: dev.ID,
		})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("someone else's access request invisible", func(t *testing.T) {
		ok, err := checker.Allowed(ctx, dev, CategoryAccessRequests, ActionRead, &ObjectRef{
			Category: CategoryAccessRequests, RequesterID: 42,
		})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestChecker_ReviewerScope(t *testing.T) {
	src := seedSource()
	checker := NewChecker(src, 16, time.Minute)
	ctx := context.Background()
	reviewer := principalWithRole(src, RoleReviewer)

	// Reads unrestricted by object
	ok, err := checker.Allowed(ctx, reviewer, CategoryAccessRequests, ActionRead, &ObjectRef{
		Category: CategoryAccessRequests, RequesterID: 42,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Writes restricted to the review action
	ok, err = checker.Allowed(ctx, reviewer, CategoryAccessRequests, ActionReview, &ObjectRef{
		Category: CategoryAccessRequests, RequesterID: 42,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = checker.Allowed(ctx, reviewer, CategoryAPIKeys, ActionDelete, &ObjectRef{
		Category: CategoryAPIKeys, PublisherID: 42,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecker_Require(t *testing.T) {
	src := seedSource()
	checker := NewChecker(src, 16, time.Minute)
	ctx := context.Background()
	dev := principalWithRole(src, RoleDeveloper)

	assert.NoError(t, checker.Require(ctx, dev, CategoryResources, ActionRead, nil))
	assert.ErrorIs(t, checker.Require(ctx, dev, CategoryResources, ActionPublish, nil), ErrPermissionDenied)
}

func TestChecker_CachesRoles(t *testing.T) {
	src := seedSource()
	checker := NewChecker(src, 16, time.Minute)
	ctx := context.Background()
	dev := principalWithRole(src, RoleDeveloper)

	for i := 0; i < 5; i++ {
		_, err := checker.Allowed(ctx, dev, CategoryResources, ActionRead, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.lookups)

	checker.Invalidate(dev.RoleID)
	_, err := checker.Allowed(ctx, dev, CategoryResources, ActionRead, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, src.lookups)
}
