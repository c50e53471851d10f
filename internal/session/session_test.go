package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchd-dev/authflow/internal/models"
	"github.com/branchd-dev/authflow/internal/provider"
	"github.com/branchd-dev/authflow/internal/provider/providertest"
	"github.com/branchd-dev/authflow/internal/store"
)

// failingStore rejects saves so tests can check nothing is emitted
type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) Save(ctx context.Context, cred *models.Credential) error {
	return errors.New("disk full")
}

func newTestClient(t *testing.T, fake *providertest.Server, s Store, opts ...Option) *Client {
	t.Helper()
	c := New(provider.New(fake.Config()), s, zerolog.Nop(), opts...)
	t.Cleanup(c.Close)
	return c
}

func next(t *testing.T, ch <-chan *models.AppUser) *models.AppUser {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "change stream closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return nil
}

func assertNoChange(t *testing.T, ch <-chan *models.AppUser) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected change: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSignIn_EmitsAndPersists(t *testing.T) {
	fake := providertest.NewServer(t)
	id := fake.AddUser("ada@example.com", "password123", "Ada Lovelace", true)
	mem := store.NewMemoryStore()
	c := newTestClient(t, fake, mem)

	changes := c.Changes(context.Background())
	assert.Nil(t, next(t, changes), "new subscriber gets the signed-out state")

	user, err := c.SignIn(context.Background(), "ada@example.com", "password123")
	require.NoError(t, err)

	want := &models.AppUser{ID: id, Email: "ada@example.com", DisplayName: "Ada Lovelace", EmailVerified: true}
	assert.Equal(t, want, user)
	assert.Equal(t, want, next(t, changes))
	assert.Equal(t, want, c.CurrentUser())

	cred, err := mem.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, cred.UserID)
	token, expiresAt := c.IDToken()
	assert.Equal(t, token, cred.IDToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)
}

func TestSignIn_FailureKeepsSignedOut(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := newTestClient(t, fake, store.NewMemoryStore())
	changes := c.Changes(context.Background())
	next(t, changes)

	_, err := c.SignIn(context.Background(), "ada@example.com", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, provider.CodeInvalidPassword, provider.Code(err))
	assert.Nil(t, c.CurrentUser())
	assertNoChange(t, changes)
}

func TestSignIn_PersistFailureDoesNotEmit(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := newTestClient(t, fake, &failingStore{store.NewMemoryStore()})
	changes := c.Changes(context.Background())
	next(t, changes)

	_, err := c.SignIn(context.Background(), "ada@example.com", "password123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist session: disk full")
	assert.Nil(t, c.CurrentUser())
	assertNoChange(t, changes)
}

func TestSignIn_LookupFailureFallsBackToTokenResponse(t *testing.T) {
	fake := providertest.NewServer(t)
	id := fake.AddUser("ada@example.com", "password123", "", true)
	c := newTestClient(t, fake, store.NewMemoryStore())

	fake.FailNext(providertest.Lookup, "INTERNAL_ERROR")
	user, err := c.SignIn(context.Background(), "ada@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, &models.AppUser{ID: id, Email: "ada@example.com", DisplayName: "ada"}, user)
}

func TestSignUp_SetsDisplayName(t *testing.T) {
	fake := providertest.NewServer(t)
	c := newTestClient(t, fake, store.NewMemoryStore())

	user, err := c.SignUp(context.Background(), "grace@example.com", "password123", "Grace Hopper")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", user.Email)
	assert.Equal(t, "Grace Hopper", user.DisplayName)
	assert.False(t, user.EmailVerified)
	assert.Equal(t, 1, fake.Calls(providertest.Update))
}

func TestSignUp_WithoutDisplayNameSkipsUpdate(t *testing.T) {
	fake := providertest.NewServer(t)
	c := newTestClient(t, fake, store.NewMemoryStore())

	user, err := c.SignUp(context.Background(), "grace@example.com", "password123", "")
	require.NoError(t, err)
	assert.Equal(t, "grace", user.DisplayName)
	assert.Equal(t, 0, fake.Calls(providertest.Update))
}

func TestSignUp_ExistingEmail(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("grace@example.com", "password123", "", false)
	c := newTestClient(t, fake, store.NewMemoryStore())

	_, err := c.SignUp(context.Background(), "grace@example.com", "password123", "")
	require.Error(t, err)
	assert.Equal(t, provider.CodeEmailExists, provider.Code(err))
}

func TestSignOut(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	mem := store.NewMemoryStore()
	c := newTestClient(t, fake, mem)
	ctx := context.Background()

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	changes := c.Changes(ctx)
	require.NotNil(t, next(t, changes))

	require.NoError(t, c.SignOut(ctx))
	assert.Nil(t, next(t, changes))
	assert.Nil(t, c.CurrentUser())
	_, err = mem.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Second sign-out is a silent no-op
	require.NoError(t, c.SignOut(ctx))
	assertNoChange(t, changes)
}

func TestRestore(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "Ada", false)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	first := newTestClient(t, fake, mem)
	_, err := first.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	first.Close()

	fake.SetEmailVerified("ada@example.com", true)

	second := newTestClient(t, fake, mem)
	changes := second.Changes(ctx)
	assert.Nil(t, next(t, changes))

	user, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified, "restore reloads the user record")
	assert.Equal(t, user, next(t, changes))
	assert.Equal(t, 0, fake.Calls(providertest.Token), "fresh token is not refreshed")
}

func TestRestore_NothingPersisted(t *testing.T) {
	fake := providertest.NewServer(t)
	c := newTestClient(t, fake, store.NewMemoryStore())

	user, err := c.Restore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestRestore_ExpiredTokenIsRefreshed(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	first := newTestClient(t, fake, mem)
	_, err := first.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	later := func() time.Time { return time.Now().Add(2 * time.Hour) }
	fake.SetClock(later)
	second := newTestClient(t, fake, mem, WithClock(later))
	user, err := second.Restore(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, 1, fake.Calls(providertest.Token))
}

func TestRestore_RevokedSessionSignsOut(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	first := newTestClient(t, fake, mem)
	_, err := first.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	fake.RevokeSessions("ada@example.com")

	later := func() time.Time { return time.Now().Add(2 * time.Hour) }
	second := newTestClient(t, fake, mem, WithClock(later))
	user, err := second.Restore(ctx)
	require.ErrorIs(t, err, ErrSessionRevoked)
	assert.Nil(t, user)
	assert.Nil(t, second.CurrentUser())
	_, err = mem.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefresh(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	ctx := context.Background()

	now := time.Now()
	c := newTestClient(t, fake, store.NewMemoryStore(), WithClock(func() time.Time { return now }), WithRefreshWindow(10*time.Minute))

	require.ErrorIs(t, c.Refresh(ctx, false), ErrNotSignedIn)

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	before, _ := c.IDToken()

	require.NoError(t, c.Refresh(ctx, false))
	assert.Equal(t, 0, fake.Calls(providertest.Token), "token outside the window is kept")

	now = now.Add(55 * time.Minute)
	require.NoError(t, c.Refresh(ctx, false))
	assert.Equal(t, 1, fake.Calls(providertest.Token))
	after, _ := c.IDToken()
	assert.NotEqual(t, before, after)

	require.NoError(t, c.Refresh(ctx, true))
	assert.Equal(t, 2, fake.Calls(providertest.Token))
}

func TestRefresh_NetworkErrorKeepsSession(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := newTestClient(t, fake, store.NewMemoryStore())
	ctx := context.Background()

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	fake.FailNext(providertest.Token, "INTERNAL")
	err = c.Refresh(ctx, true)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionRevoked)
	assert.NotNil(t, c.CurrentUser())
}

func TestRefresh_RevokedEmitsSignedOut(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := newTestClient(t, fake, store.NewMemoryStore())
	ctx := context.Background()

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	changes := c.Changes(ctx)
	require.NotNil(t, next(t, changes))

	fake.RevokeSessions("ada@example.com")
	require.ErrorIs(t, c.Refresh(ctx, true), ErrSessionRevoked)
	assert.Nil(t, next(t, changes))
}

func TestReload_EmitsOnlyOnChange(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := newTestClient(t, fake, store.NewMemoryStore())
	ctx := context.Background()

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	changes := c.Changes(ctx)
	next(t, changes)

	_, err = c.Reload(ctx)
	require.NoError(t, err)
	assertNoChange(t, changes)

	fake.SetEmailVerified("ada@example.com", true)
	user, err := c.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	assert.True(t, next(t, changes).EmailVerified)
}

// signInThenSleep signs in and moves both clocks past the ID token expiry
func signInThenSleep(t *testing.T, fake *providertest.Server, mem *store.MemoryStore) *Client {
	t.Helper()
	start := time.Now()
	now := start
	fake.SetClock(func() time.Time { return start })

	c := newTestClient(t, fake, mem, WithClock(func() time.Time { return now }))
	_, err := c.SignIn(context.Background(), "ada@example.com", "password123")
	require.NoError(t, err)

	later := start.Add(2 * time.Hour)
	now = later
	fake.SetClock(func() time.Time { return later })
	return c
}

func TestReload_ExpiredTokenIsRefreshedFirst(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	mem := store.NewMemoryStore()
	c := signInThenSleep(t, fake, mem)

	fake.SetEmailVerified("ada@example.com", true)
	user, err := c.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	assert.Equal(t, 1, fake.Calls(providertest.Token))

	require.NotNil(t, c.CurrentUser())
	cred, err := mem.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, cred.EmailVerified)
	token, _ := c.IDToken()
	assert.Equal(t, token, cred.IDToken)
}

func TestReload_RejectedTokenIsRefreshedAndRetried(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := newTestClient(t, fake, store.NewMemoryStore())
	ctx := context.Background()

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	// The provider's clock ran ahead: the token looks fresh locally but is expired
	fake.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	lookups := fake.Calls(providertest.Lookup)

	user, err := c.Reload(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, 1, fake.Calls(providertest.Token))
	assert.Equal(t, lookups+2, fake.Calls(providertest.Lookup))
	assert.NotNil(t, c.CurrentUser())
}

func TestReload_AfterFailedRestoreRefresh(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	first := newTestClient(t, fake, mem)
	_, err := first.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	later := func() time.Time { return time.Now().Add(2 * time.Hour) }
	fake.SetClock(later)
	second := newTestClient(t, fake, mem, WithClock(later))

	fake.FailNext(providertest.Token, "INTERNAL")
	user, err := second.Restore(ctx)
	require.NoError(t, err)
	require.NotNil(t, user, "a transient refresh failure keeps the session")

	user, err = second.Reload(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.NotNil(t, second.CurrentUser())
	_, err = mem.Load(ctx)
	assert.NoError(t, err)
}

func TestReload_RevokedSessionSignsOut(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	mem := store.NewMemoryStore()
	c := newTestClient(t, fake, mem)
	ctx := context.Background()

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	fake.RevokeSessions("ada@example.com")

	_, err = c.Reload(ctx)
	require.ErrorIs(t, err, ErrSessionRevoked)
	assert.Nil(t, c.CurrentUser())
	_, err = mem.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendEmailVerification_ExpiredTokenIsRefreshedFirst(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := signInThenSleep(t, fake, store.NewMemoryStore())

	require.NoError(t, c.SendEmailVerification(context.Background()))
	assert.Equal(t, 1, fake.Calls(providertest.Token))
	assert.Equal(t, []string{"VERIFY_EMAIL:ada@example.com"}, fake.OobRequests())
}

func TestSendEmailVerification_RejectedTokenIsRefreshedAndRetried(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := newTestClient(t, fake, store.NewMemoryStore())
	ctx := context.Background()

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	fake.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	require.NoError(t, c.SendEmailVerification(ctx))
	assert.Equal(t, 1, fake.Calls(providertest.Token))
	assert.Equal(t, 2, fake.Calls(providertest.SendOob))
	assert.Equal(t, []string{"VERIFY_EMAIL:ada@example.com"}, fake.OobRequests())
}

func TestSendEmailVerification_RevokedSession(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := newTestClient(t, fake, store.NewMemoryStore())
	ctx := context.Background()

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	fake.RevokeSessions("ada@example.com")

	require.ErrorIs(t, c.SendEmailVerification(ctx), ErrSessionRevoked)
	assert.Nil(t, c.CurrentUser())
	assert.Empty(t, fake.OobRequests())
}

func TestEmailActions(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	c := newTestClient(t, fake, store.NewMemoryStore())
	ctx := context.Background()

	require.ErrorIs(t, c.SendEmailVerification(ctx), ErrNotSignedIn)

	_, err := c.SignIn(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	require.NoError(t, c.SendEmailVerification(ctx))
	require.NoError(t, c.SendPasswordReset(ctx, "ada@example.com"))

	err = c.SendPasswordReset(ctx, "nobody@example.com")
	require.Error(t, err)
	assert.Equal(t, provider.CodeEmailNotFound, provider.Code(err))
}

func TestClose_EndsStreamsAndRejectsOperations(t *testing.T) {
	fake := providertest.NewServer(t)
	c := New(provider.New(fake.Config()), store.NewMemoryStore(), zerolog.Nop())
	changes := c.Changes(context.Background())
	next(t, changes)

	c.Close()
	_, ok := <-changes
	assert.False(t, ok)

	_, err := c.SignIn(context.Background(), "ada@example.com", "password123")
	assert.ErrorIs(t, err, ErrClosed)
}
