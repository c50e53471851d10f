package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchd-dev/authflow/internal/config"
	"github.com/branchd-dev/authflow/internal/provider"
	"github.com/branchd-dev/authflow/internal/provider/providertest"
)

func TestClient_SignInAndLookup(t *testing.T) {
	fake := providertest.NewServer(t)
	id := fake.AddUser("ada@example.com", "password123", "Ada", true)
	client := provider.New(fake.Config())
	ctx := context.Background()

	tokens, err := client.SignInWithPassword(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, id, tokens.LocalID)
	assert.NotEmpty(t, tokens.IDToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, time.Hour, tokens.ExpiresIn)

	rec, err := client.Lookup(ctx, tokens.IDToken)
	require.NoError(t, err)
	assert.Equal(t, provider.UserRecord{
		LocalID:       id,
		Email:         "ada@example.com",
		DisplayName:   "Ada",
		EmailVerified: true,
	}, *rec)
}

func TestClient_SignInErrors(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	client := provider.New(fake.Config())

	tests := []struct {
		name     string
		email    string
		password string
		code     string
	}{
		{name: "unknown email", email: "bob@example.com", password: "password123", code: provider.CodeEmailNotFound},
		{name: "wrong password", email: "ada@example.com", password: "nope-nope", code: provider.CodeInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.SignInWithPassword(context.Background(), tt.email, tt.password)
			require.Error(t, err)
			assert.Equal(t, tt.code, provider.Code(err))
			assert.True(t, provider.IsCredentialError(err))
		})
	}
}

func TestClient_SignUpWeakPasswordCarriesDetail(t *testing.T) {
	fake := providertest.NewServer(t)
	client := provider.New(fake.Config())

	_, err := client.SignUp(context.Background(), "ada@example.com", "123")
	require.Error(t, err)

	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.CodeWeakPassword, perr.Code)
	assert.Equal(t, "Password should be at least 6 characters", perr.Message)
	assert.Equal(t, http.StatusBadRequest, perr.Status)
}

func TestClient_RefreshAndRevoke(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	client := provider.New(fake.Config())
	ctx := context.Background()

	tokens, err := client.SignInWithPassword(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	refreshed, err := client.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.IDToken, refreshed.IDToken)
	assert.Equal(t, tokens.LocalID, refreshed.LocalID)

	fake.RevokeSessions("ada@example.com")
	_, err = client.Refresh(ctx, tokens.RefreshToken)
	require.Error(t, err)
	assert.True(t, provider.IsSessionRevoked(err))
}

func TestClient_OobCodes(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	client := provider.New(fake.Config())
	ctx := context.Background()

	tokens, err := client.SignInWithPassword(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	require.NoError(t, client.SendEmailVerification(ctx, tokens.IDToken))
	require.NoError(t, client.SendPasswordReset(ctx, "ada@example.com"))
	assert.Equal(t, []string{"VERIFY_EMAIL:ada@example.com", "PASSWORD_RESET:ada@example.com"}, fake.OobRequests())
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := provider.New(config.ProviderConfig{APIKey: "k", BaseURL: url, TokenURL: url})
	_, err := client.SignInWithPassword(context.Background(), "ada@example.com", "password123")
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	client := provider.New(config.ProviderConfig{APIKey: "k", BaseURL: srv.URL, TokenURL: srv.URL})
	_, err := client.SignUp(context.Background(), "ada@example.com", "password123")
	require.Error(t, err)

	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "SERVICE_UNAVAILABLE", perr.Code)
	assert.Equal(t, "upstream down", perr.Message)
}

func TestClient_ExpiredIDTokenIsRejected(t *testing.T) {
	fake := providertest.NewServer(t)
	fake.AddUser("ada@example.com", "password123", "", false)
	client := provider.New(fake.Config())
	ctx := context.Background()

	tokens, err := client.SignInWithPassword(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	fake.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	_, err = client.Lookup(ctx, tokens.IDToken)
	assert.Equal(t, provider.CodeTokenExpired, provider.Code(err))
	assert.True(t, provider.IsTokenRejected(err))

	_, err = client.UpdateProfile(ctx, tokens.IDToken, "Ada")
	assert.Equal(t, provider.CodeTokenExpired, provider.Code(err))

	err = client.SendEmailVerification(ctx, tokens.IDToken)
	assert.Equal(t, provider.CodeTokenExpired, provider.Code(err))

	// The refresh token still works and yields a usable ID token
	refreshed, err := client.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	_, err = client.Lookup(ctx, refreshed.IDToken)
	assert.NoError(t, err)
}
