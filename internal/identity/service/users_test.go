package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
	"github.com/stretchr/testify/require"
)

func TestLoginPasswordFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "hunter22")

	t.Run("unknown identifier", func(t *testing.T) {
		res, err := svc.Login(ctx, LoginRequest{Identifier: "nobody", Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.False(t, res.Success)
		require.Equal(t, domain.ReasonNotFound, res.Reason)
	})

	t.Run("wrong password", func(t *testing.T) {
		res, err := svc.Login(ctx, LoginRequest{Identifier: "jordan", Secret: "wrong"}, passwordAuth(svc))
		require.NoError(t, err)
		require.False(t, res.Success)
		require.Equal(t, domain.ReasonPasswordIncorrect, res.Reason)
	})

	t.Run("empty password", func(t *testing.T) {
		res, err := svc.Login(ctx, LoginRequest{Identifier: "jordan", Secret: ""}, passwordAuth(svc))
		require.NoError(t, err)
		require.Equal(t, domain.ReasonPasswordIncorrect, res.Reason)
	})

	t.Run("success mints a session", func(t *testing.T) {
		res, err := svc.Login(ctx, LoginRequest{Identifier: "jordan", Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.True(t, res.Success)
		require.NotNil(t, res.Session)
		require.NotEmpty(t, res.Session.Token)

		sess, err := svc.Sessions.Validate(ctx, res.Session.Token)
		require.NoError(t, err)
		require.NotNil(t, sess)
		require.Equal(t, user.ID, sess.UserID)
	})

	t.Run("identifier may be the uuid", func(t *testing.T) {
		res, err := svc.Login(ctx, LoginRequest{Identifier: user.UUID, Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.True(t, res.Success)
	})

	t.Run("deactivated user cannot login", func(t *testing.T) {
		inactive := false
		_, err := svc.UpdateUser(ctx, user.ID, domain.UserChanges{Active: &inactive})
		require.NoError(t, err)

		res, err := svc.Login(ctx, LoginRequest{Identifier: "jordan", Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.Equal(t, domain.ReasonUserCannotLogin, res.Reason)
	})
}

func TestLoginEmailConfirmationGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)

	pending := mustAddUser(t, svc, "pending", "pending@example.com", "hunter22")
	confirmed := mustAddUser(t, svc, "confirmed", "confirmed@example.com", "hunter22")

	redeemed, err := svc.ConfirmEmail(ctx, confirmed.EmailConfirmToken)
	require.NoError(t, err)
	require.NotNil(t, redeemed)
	require.Equal(t, confirmed.UUID, redeemed.UUID)

	t.Run("grace period while the token is live", func(t *testing.T) {
		res, err := svc.Login(ctx, LoginRequest{Identifier: "pending", Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.True(t, res.Success)
	})

	clk.Advance(169 * time.Hour) // past the 7 day confirm window

	t.Run("blocked once the token lapses", func(t *testing.T) {
		res, err := svc.Login(ctx, LoginRequest{Identifier: "pending", Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.Equal(t, domain.ReasonEmailNotConfirmed, res.Reason)
	})

	t.Run("confirmed accounts are unaffected", func(t *testing.T) {
		res, err := svc.Login(ctx, LoginRequest{Identifier: "confirmed", Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.True(t, res.Success)
	})

	t.Run("lapsed token cannot be redeemed", func(t *testing.T) {
		redeemed, err := svc.ConfirmEmail(ctx, pending.EmailConfirmToken)
		require.NoError(t, err)
		require.Nil(t, redeemed)
	})
}

func TestLoginAppMembershipGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	mustAddUser(t, svc, "clerk", "", "hunter22", domain.Membership{App: "shop", Role: "staff"})

	res, err := svc.Login(ctx, LoginRequest{Identifier: "clerk", Secret: "hunter22", App: "shop"}, passwordAuth(svc))
	require.NoError(t, err)
	require.True(t, res.Success)

	// Outside the requested app the account reads as nonexistent, even when
	// the password would otherwise have been rejected first.
	res, err = svc.Login(ctx, LoginRequest{Identifier: "clerk", Secret: "hunter22", App: "crm"}, passwordAuth(svc))
	require.NoError(t, err)
	require.Equal(t, domain.ReasonNotFound, res.Reason)

	res, err = svc.Login(ctx, LoginRequest{Identifier: "clerk", Secret: "wrong", App: "crm"}, passwordAuth(svc))
	require.NoError(t, err)
	require.Equal(t, domain.ReasonNotFound, res.Reason)

	svc.RequireApp = true
	res, err = svc.Login(ctx, LoginRequest{Identifier: "clerk", Secret: "hunter22"}, passwordAuth(svc))
	require.NoError(t, err)
	require.Equal(t, domain.ReasonUserCannotLogin, res.Reason)
}

func TestEmailTwoFactorFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "jordan@example.com", "hunter22")

	// Enroll: setup hands out a code over the email channel; verifying it
	// records the method and confirms the address in one stroke.
	_, prompt, err := svc.SetupTwoFactor(ctx, "jordan", domain.TwoFactorEmail)
	require.NoError(t, err)
	require.NotEmpty(t, prompt.Code)
	require.NotEmpty(t, prompt.UserToken)

	res, err := svc.VerifyTwoFactor(ctx, "jordan", domain.TwoFactorEmail, domain.TwoFactorPayload{
		UserToken: prompt.UserToken,
		Code:      prompt.Code,
	}, 0)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.Session)

	enrolled, err := svc.GetUser(ctx, user.UUID)
	require.NoError(t, err)
	require.Equal(t, domain.TwoFactorEmail, enrolled.TwoFactor)
	require.NotNil(t, enrolled.EmailConfirmed)

	// Subsequent logins stop at the challenge.
	login, err := svc.Login(ctx, LoginRequest{Identifier: "jordan", Secret: "hunter22"}, passwordAuth(svc))
	require.NoError(t, err)
	require.False(t, login.Success)
	require.True(t, login.TwoFactorRequired)
	require.NotNil(t, login.TwoFactor)

	t.Run("wrong codes burn attempts", func(t *testing.T) {
		for range 3 {
			res, err := svc.VerifyTwoFactor(ctx, "jordan", domain.TwoFactorEmail, domain.TwoFactorPayload{
				UserToken: login.TwoFactor.UserToken,
				Code:      "000000",
			}, 0)
			require.NoError(t, err)
			require.Equal(t, domain.ReasonTwoFactorFailed, res.Reason)
		}

		// Even the right code is refused once attempts are exhausted.
		res, err := svc.VerifyTwoFactor(ctx, "jordan", domain.TwoFactorEmail, domain.TwoFactorPayload{
			UserToken: login.TwoFactor.UserToken,
			Code:      login.TwoFactor.Code,
		}, 0)
		require.NoError(t, err)
		require.Equal(t, domain.ReasonTwoFactorFailed, res.Reason)
	})

	t.Run("fresh challenge verifies and is single use", func(t *testing.T) {
		login, err := svc.Login(ctx, LoginRequest{Identifier: "jordan", Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.True(t, login.TwoFactorRequired)

		payload := domain.TwoFactorPayload{
			UserToken: login.TwoFactor.UserToken,
			Code:      login.TwoFactor.Code,
		}
		res, err := svc.VerifyTwoFactor(ctx, "jordan", domain.TwoFactorEmail, payload, 0)
		require.NoError(t, err)
		require.True(t, res.Success)

		// Replay is dead.
		res, err = svc.VerifyTwoFactor(ctx, "jordan", domain.TwoFactorEmail, payload, 0)
		require.NoError(t, err)
		require.Equal(t, domain.ReasonTwoFactorFailed, res.Reason)
	})

	t.Run("challenge expires", func(t *testing.T) {
		login, err := svc.Login(ctx, LoginRequest{Identifier: "jordan", Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.True(t, login.TwoFactorRequired)

		clk.Advance(11 * time.Minute)
		res, err := svc.VerifyTwoFactor(ctx, "jordan", domain.TwoFactorEmail, domain.TwoFactorPayload{
			UserToken: login.TwoFactor.UserToken,
			Code:      login.TwoFactor.Code,
		}, 0)
		require.NoError(t, err)
		require.Equal(t, domain.ReasonTwoFactorFailed, res.Reason)
	})
}

func TestAddUserValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	mustAddUser(t, svc, "jordan", "jordan@example.com", "hunter22",
		domain.Membership{App: "shop", Role: "admin"})

	t.Run("memberships created with the account", func(t *testing.T) {
		user, err := svc.GetUser(ctx, "jordan")
		require.NoError(t, err)
		require.Len(t, user.Memberships, 1)
		require.True(t, user.HasMembership("shop", "admin"))
		require.NotEmpty(t, user.UUID)
	})

	t.Run("rejects bad usernames", func(t *testing.T) {
		err := svc.AddUser(ctx, &domain.User{Username: "not a name", Active: true})
		require.ErrorIs(t, err, ErrUsernameInvalid)
	})

	t.Run("rejects bad emails", func(t *testing.T) {
		err := svc.AddUser(ctx, &domain.User{Username: "fine", Email: "not-an-email", Active: true})
		require.ErrorIs(t, err, ErrEmailInvalid)
	})

	t.Run("username is taken case-insensitively", func(t *testing.T) {
		err := svc.AddUser(ctx, &domain.User{Username: "JORDAN", Active: true})
		require.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("email is taken", func(t *testing.T) {
		err := svc.AddUser(ctx, &domain.User{Username: "other", Email: "jordan@example.com", Active: true})
		require.ErrorIs(t, err, ErrEmailTaken)
	})
}

func TestUpdateUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "hunter22")
	mustAddUser(t, svc, "taken", "", "")

	t.Run("partial update leaves other fields alone", func(t *testing.T) {
		first := "Jordan"
		n, err := svc.UpdateUser(ctx, user.ID, domain.UserChanges{FirstName: &first})
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		got, err := svc.GetUser(ctx, "jordan")
		require.NoError(t, err)
		require.Equal(t, "Jordan", got.FirstName)
		require.Equal(t, "jordan", got.Username)
	})

	t.Run("username collision maps to a typed error", func(t *testing.T) {
		clash := "taken"
		_, err := svc.UpdateUser(ctx, user.ID, domain.UserChanges{Username: &clash})
		require.ErrorIs(t, err, ErrCannotUpdate)
	})

	t.Run("unknown id touches nothing", func(t *testing.T) {
		first := "Ghost"
		n, err := svc.UpdateUser(ctx, 99999, domain.UserChanges{FirstName: &first})
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("deactivation revokes every session", func(t *testing.T) {
		res, err := svc.Login(ctx, LoginRequest{Identifier: "jordan", Secret: "hunter22"}, passwordAuth(svc))
		require.NoError(t, err)
		require.True(t, res.Success)

		inactive := false
		_, err = svc.UpdateUser(ctx, user.ID, domain.UserChanges{Active: &inactive})
		require.NoError(t, err)

		sess, err := svc.Sessions.Validate(ctx, res.Session.Token)
		require.NoError(t, err)
		require.Nil(t, sess)
	})
}

func TestMemberships(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "",
		domain.Membership{App: "shop", Role: "staff"},
		domain.Membership{App: "crm", Role: "viewer"})

	t.Run("add and remove pairs", func(t *testing.T) {
		err := svc.AddMemberships(ctx, user.ID, []domain.Membership{{App: "shop", Role: "admin"}})
		require.NoError(t, err)

		err = svc.RemoveMemberships(ctx, user.ID, []domain.AppRole{{App: "shop", Role: "staff"}})
		require.NoError(t, err)

		got, err := svc.GetUser(ctx, "jordan")
		require.NoError(t, err)
		require.Len(t, got.Memberships, 2)
		require.True(t, got.HasMembership("shop", "admin"))
		require.True(t, got.HasMembership("crm", "viewer"))
		require.False(t, got.HasMembership("shop", "staff"))
	})

	t.Run("replace swaps the full set", func(t *testing.T) {
		err := svc.ReplaceMemberships(ctx, user.ID, []domain.Membership{{App: "billing", Role: "owner"}})
		require.NoError(t, err)

		got, err := svc.GetUser(ctx, "jordan")
		require.NoError(t, err)
		require.Len(t, got.Memberships, 1)
		require.True(t, got.HasMembership("billing", "owner"))
	})

	t.Run("update rewrites one grant", func(t *testing.T) {
		got, err := svc.GetUser(ctx, "jordan")
		require.NoError(t, err)
		m := got.Memberships[0]
		m.Role = "viewer"
		require.NoError(t, svc.UpdateMembership(ctx, m))

		got, err = svc.GetUser(ctx, "jordan")
		require.NoError(t, err)
		require.True(t, got.HasMembership("billing", "viewer"))
	})

	t.Run("duplicate grant passes through", func(t *testing.T) {
		// This layer inserts blindly; idempotence belongs to the caller.
		err := svc.AddMemberships(ctx, user.ID, []domain.Membership{{App: "billing", Role: "viewer"}})
		require.NoError(t, err)

		got, err := svc.GetUser(ctx, "jordan")
		require.NoError(t, err)
		require.Len(t, got.Memberships, 2)
	})
}

// membershipAddFailStore fails every membership insert inside a transaction,
// leaving the rest of the store intact.
type membershipAddFailStore struct {
	store.Store
}

func (s *membershipAddFailStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(&membershipAddFailTx{storeTx: tx})
	})
}

// storeTx aliases store.Tx so embedding it does not shadow the promoted
// Tx method with a field of the same name.
type storeTx = store.Tx

type membershipAddFailTx struct {
	storeTx
}

func (t *membershipAddFailTx) Memberships() store.MembershipRepository {
	return &membershipAddFailRepo{MembershipRepository: t.storeTx.Memberships()}
}

type membershipAddFailRepo struct {
	store.MembershipRepository
}

func (r *membershipAddFailRepo) Add(ctx context.Context, userID int64, ms []domain.Membership) error {
	return errors.New("insert refused")
}

func TestReplaceMembershipsRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	st := newTestStore(t)
	svc := newUserService(st, clk)
	user := mustAddUser(t, svc, "jordan", "", "",
		domain.Membership{App: "shop", Role: "staff"})

	// When the insert half of the swap fails the delete must roll back with
	// it; a partially replaced set is never observable.
	svc.Store = &membershipAddFailStore{Store: st}
	err := svc.ReplaceMemberships(ctx, user.ID, []domain.Membership{{App: "crm", Role: "admin"}})
	require.Error(t, err)
	svc.Store = st

	got, err := svc.GetUser(ctx, "jordan")
	require.NoError(t, err)
	require.Len(t, got.Memberships, 1)
	require.True(t, got.HasMembership("shop", "staff"))
}

func TestPurgeUserCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "hunter22", domain.Membership{App: "shop", Role: "staff"})

	res, err := svc.Login(ctx, LoginRequest{Identifier: "jordan", Secret: "hunter22"}, passwordAuth(svc))
	require.NoError(t, err)
	require.True(t, res.Success)

	found, err := svc.PurgeUser(ctx, user.UUID)
	require.NoError(t, err)
	require.True(t, found)

	got, err := svc.GetUser(ctx, "jordan")
	require.NoError(t, err)
	require.Nil(t, got)

	sess, err := svc.Sessions.Validate(ctx, res.Session.Token)
	require.NoError(t, err)
	require.Nil(t, sess)

	found, err = svc.PurgeUser(ctx, user.UUID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetUsersSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)

	jordan := mustAddUser(t, svc, "jordan77", "jordan@example.com", "", domain.Membership{App: "shop", Role: "admin"})
	jordan.FirstName = "Jordan"
	_, err := svc.UpdateUser(ctx, jordan.ID, domain.UserChanges{FirstName: &jordan.FirstName})
	require.NoError(t, err)

	smith := mustAddUser(t, svc, "jsmith", "", "", domain.Membership{App: "shop", Role: "staff"})
	first := "Jordan"
	_, err = svc.UpdateUser(ctx, smith.ID, domain.UserChanges{FirstName: &first})
	require.NoError(t, err)

	mustAddUser(t, svc, "alice", "alice@example.com", "", domain.Membership{App: "crm", Role: "admin"})

	t.Run("prefix query spans email and names", func(t *testing.T) {
		page, err := svc.GetUsers(ctx, domain.SearchCriteria{
			Query:   "jordan",
			OrderBy: []domain.OrderBy{{Key: "username"}},
		})
		require.NoError(t, err)
		require.Equal(t, 2, page.Total)
		require.Len(t, page.Items, 2)
		require.Equal(t, "jordan77", page.Items[0].Username)
		require.Equal(t, "jsmith", page.Items[1].Username)
		require.Equal(t, 0, page.LastPage)
	})

	t.Run("membership filter ORs pairs", func(t *testing.T) {
		page, err := svc.GetUsers(ctx, domain.SearchCriteria{
			Memberships: []domain.AppRole{
				{App: "shop", Role: "admin"},
				{App: "crm", Role: "admin"},
			},
			OrderBy: []domain.OrderBy{{Key: "username"}},
		})
		require.NoError(t, err)
		require.Equal(t, 2, page.Total)
		require.Equal(t, "alice", page.Items[0].Username)
		require.Equal(t, "jordan77", page.Items[1].Username)
	})

	t.Run("email prefix filter", func(t *testing.T) {
		page, err := svc.GetUsers(ctx, domain.SearchCriteria{Email: "alice@"})
		require.NoError(t, err)
		require.Equal(t, 1, page.Total)
		require.Equal(t, "alice", page.Items[0].Username)
	})

	t.Run("uuid set filter", func(t *testing.T) {
		page, err := svc.GetUsers(ctx, domain.SearchCriteria{UUIDs: []string{jordan.UUID, smith.UUID}})
		require.NoError(t, err)
		require.Equal(t, 2, page.Total)
	})

	t.Run("paging computes the last page", func(t *testing.T) {
		page, err := svc.GetUsers(ctx, domain.SearchCriteria{
			PerPage: 2,
			OrderBy: []domain.OrderBy{{Key: "username"}},
		})
		require.NoError(t, err)
		require.Equal(t, 3, page.Total)
		require.Len(t, page.Items, 2)
		require.Equal(t, 1, page.LastPage)

		page, err = svc.GetUsers(ctx, domain.SearchCriteria{
			Page:    1,
			PerPage: 2,
			OrderBy: []domain.OrderBy{{Key: "username"}},
		})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		require.Equal(t, 1, page.CurrentPage)
	})

	t.Run("memberships ride along hydrated", func(t *testing.T) {
		page, err := svc.GetUsers(ctx, domain.SearchCriteria{Query: "jordan@"})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		require.True(t, page.Items[0].HasMembership("shop", "admin"))
	})
}
