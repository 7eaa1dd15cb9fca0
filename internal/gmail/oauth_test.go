package gmail

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, saveToken(path, &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}))

	token, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "access", token.AccessToken)
	assert.Equal(t, "refresh", token.RefreshToken)
	assert.True(t, expiry.Equal(token.Expiry))

	_, err = LoadToken(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestTokenSource_UsesSavedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, saveToken(path, &oauth2.Token{
		AccessToken: "saved",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))

	ts, err := TokenSource(context.Background(), OAuth2Config{ClientID: "id", ClientSecret: "secret", TokenFile: path})
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "saved", token.AccessToken)
}

type sequenceSource struct {
	tokens []string
	calls  int
}

func (s *sequenceSource) Token() (*oauth2.Token, error) {
	tok := s.tokens[s.calls]
	if s.calls < len(s.tokens)-1 {
		s.calls++
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

func TestSavingSource_PersistsRefreshedTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	src := &savingSource{
		base: &sequenceSource{tokens: []string{"first", "refreshed"}},
		path: path,
		last: "first",
	}

	_, err := src.Token()
	require.NoError(t, err)
	_, err = LoadToken(path)
	require.Error(t, err, "unchanged token is not written")

	token, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", token.AccessToken)

	saved, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", saved.AccessToken)
}

func TestOAuth2Config_CallbackAddr(t *testing.T) {
	assert.Equal(t, "http://localhost:8085/callback", OAuth2Config{}.oauth().RedirectURL)
	assert.Equal(t, "http://127.0.0.1:9999/callback", OAuth2Config{CallbackAddr: "127.0.0.1:9999"}.oauth().RedirectURL)
}
