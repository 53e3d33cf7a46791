package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/auth"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

var admin = domain.Principal{Kind: domain.PrincipalUser, ID: "admin-1", Role: domain.RoleAdmin}

type fixture struct {
	svc           *Service
	keys          domain.APIKeyRepository
	notifications domain.NotificationRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		keys:          memory.NewAPIKeyRepository(store),
		notifications: memory.NewNotificationRepository(store),
	}
	f.svc = New(Deps{
		Merchants:     memory.NewMerchantRepository(store),
		Users:         memory.NewUserRepository(store),
		APIKeys:       f.keys,
		Notifications: f.notifications,
	})
	return f
}

func TestMerchantsAndUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateMerchant(ctx, domain.Principal{Kind: domain.PrincipalUser, ID: "x", Role: domain.RoleWarehouseStaff}, MerchantInput{Name: "Shop", Email: "shop@example.com"})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.CreateMerchant(ctx, admin, MerchantInput{Name: "Shop", Email: "shop@example.com", Phone: "12"})
	require.True(t, domain.IsValidation(err))

	merchant, err := f.svc.CreateMerchant(ctx, admin, MerchantInput{Name: " Shop ", Email: "Shop@Example.com", Phone: "01812345678"})
	require.NoError(t, err)
	assert.Equal(t, "Shop", merchant.Name)
	assert.Equal(t, "shop@example.com", merchant.Email)
	assert.Equal(t, "+8801812345678", merchant.Phone)
	assert.True(t, merchant.IsActive)

	_, err = f.svc.CreateUser(ctx, admin, UserInput{Email: "owner@example.com", Name: "Owner", Role: domain.RoleMerchantAdmin})
	require.True(t, domain.IsValidation(err), "merchant roles need a merchant")

	owner, err := f.svc.CreateUser(ctx, admin, UserInput{Email: "owner@example.com", Name: "Owner", Role: domain.RoleMerchantAdmin, MerchantID: merchant.ID})
	require.NoError(t, err)

	ownerPrincipal := domain.Principal{Kind: domain.PrincipalUser, ID: owner.ID, Role: owner.Role, MerchantID: owner.MerchantID}
	_, err = f.svc.CreateUser(ctx, ownerPrincipal, UserInput{Email: "picker@example.com", Name: "Picker", Role: domain.RoleWarehouseStaff})
	require.ErrorIs(t, err, domain.ErrForbidden)

	staff, err := f.svc.CreateUser(ctx, ownerPrincipal, UserInput{Email: "staff@example.com", Name: "Staff", Role: domain.RoleMerchantStaff, MerchantID: "other"})
	require.NoError(t, err)
	assert.Equal(t, merchant.ID, staff.MerchantID)

	_, err = f.svc.CreateUser(ctx, admin, UserInput{Email: "STAFF@example.com", Name: "Dup", Role: domain.RoleMerchantStaff, MerchantID: merchant.ID})
	require.ErrorIs(t, err, domain.ErrUserEmailTaken)

	picker, err := f.svc.CreateUser(ctx, admin, UserInput{Email: "picker@example.com", Name: "Picker", Role: domain.RoleWarehouseStaff, MerchantID: merchant.ID})
	require.NoError(t, err)
	assert.Empty(t, picker.MerchantID)

	_, err = f.svc.CreateUser(ctx, admin, UserInput{Email: "ghost@example.com", Name: "Ghost", Role: "ROOT"})
	require.True(t, domain.IsValidation(err))
}

func TestIssueAPIKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	merchant, err := f.svc.CreateMerchant(ctx, admin, MerchantInput{Name: "Shop", Email: "shop@example.com"})
	require.NoError(t, err)
	owner := domain.Principal{Kind: domain.PrincipalUser, ID: "owner", Role: domain.RoleMerchantAdmin, MerchantID: merchant.ID}

	_, err = f.svc.IssueAPIKey(ctx, domain.Principal{Kind: domain.PrincipalUser, ID: "s", Role: domain.RoleMerchantStaff, MerchantID: merchant.ID}, APIKeyInput{Name: "shopify", Permissions: []domain.Permission{domain.PermissionOrdersRead}})
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.IssueAPIKey(ctx, owner, APIKeyInput{Name: "shopify", Permissions: []domain.Permission{"orders:delete"}})
	require.True(t, domain.IsValidation(err))
	past := time.Now().Add(-time.Hour)
	_, err = f.svc.IssueAPIKey(ctx, owner, APIKeyInput{Name: "shopify", Permissions: []domain.Permission{domain.PermissionOrdersRead}, ExpiresAt: &past})
	require.True(t, domain.IsValidation(err))

	issued, err := f.svc.IssueAPIKey(ctx, owner, APIKeyInput{
		MerchantID:  "someone-else",
		Name:        "shopify",
		Permissions: []domain.Permission{domain.PermissionOrdersWrite, domain.PermissionOrdersRead, domain.PermissionOrdersWrite},
	})
	require.NoError(t, err)
	assert.Equal(t, merchant.ID, issued.Key.MerchantID)
	assert.Len(t, issued.Key.Permissions, 2)

	prefix, _, err := auth.ParseAPIKey(issued.Raw)
	require.NoError(t, err)
	assert.Equal(t, issued.Key.Prefix, prefix)

	logger := logrus.New()
	authenticator := auth.NewKeyAuthenticator(f.keys, logger.WithField("component", "test"))
	principal, err := authenticator.Authenticate(ctx, issued.Raw)
	require.NoError(t, err)
	assert.Equal(t, merchant.ID, principal.MerchantID)
	assert.True(t, principal.Can(domain.PermissionOrdersWrite))
}

func TestIssueAPIKey_RetriesPrefixCollision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	merchant, err := f.svc.CreateMerchant(ctx, admin, MerchantInput{Name: "Shop", Email: "shop@example.com"})
	require.NoError(t, err)

	fixed := auth.GeneratedKey{Raw: "sjf_aaaaaaaa_secret", Prefix: "aaaaaaaa", SecretHash: []byte("hash")}
	calls := 0
	f.svc.generateKey = func() (auth.GeneratedKey, error) {
		calls++
		if calls == 3 {
			return auth.GeneratedKey{Raw: "sjf_bbbbbbbb_secret", Prefix: "bbbbbbbb", SecretHash: []byte("hash")}, nil
		}
		return fixed, nil
	}

	in := APIKeyInput{MerchantID: merchant.ID, Name: "erp", Permissions: []domain.Permission{domain.PermissionOrdersRead}}
	_, err = f.svc.IssueAPIKey(ctx, admin, in)
	require.NoError(t, err)

	issued, err := f.svc.IssueAPIKey(ctx, admin, in)
	require.NoError(t, err)
	assert.Equal(t, "bbbbbbbb", issued.Key.Prefix)
	assert.Equal(t, 3, calls)
}

func TestNotifications(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	require.NoError(t, f.notifications.Create(ctx, domain.Notification{ID: "n1", Role: domain.RoleWarehouseStaff, Title: "New order", CreatedAt: now}))
	require.NoError(t, f.notifications.Create(ctx, domain.Notification{ID: "n2", UserID: "wh-1", Title: "Direct", CreatedAt: now}))
	require.NoError(t, f.notifications.Create(ctx, domain.Notification{ID: "n3", Role: domain.RoleAdmin, Title: "Admin", CreatedAt: now}))

	picker := domain.Principal{Kind: domain.PrincipalUser, ID: "wh-1", Role: domain.RoleWarehouseStaff}
	list, err := f.svc.Notifications(ctx, picker, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID)

	_, err = f.svc.Notifications(ctx, domain.Principal{Kind: domain.PrincipalAPIKey, ID: "k"}, 0)
	require.ErrorIs(t, err, domain.ErrForbidden)
}
