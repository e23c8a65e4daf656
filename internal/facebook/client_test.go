package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typhonrelay/internal/config"
)

func TestPostToPageFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v19.0/page-1/feed", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "hello world", q.Get("message"))
		assert.Equal(t, "tok", q.Get("access_token"))
		assert.Equal(t, "https://example.test", q.Get("link"))
		fmt.Fprint(w, `{"id":"page-1_42"}`)
	}))
	defer server.Close()

	c := NewClient(config.FacebookConfig{PageID: "page-1", AccessToken: "tok"}, WithBaseURL(server.URL))
	out, err := c.PostToPageFeed(context.Background(), "hello world", "https://example.test")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"page-1_42"}`, string(out))
}

func TestPostToPageFeedGraphError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"missing permission","type":"OAuthException","code":200,"fbtrace_id":"abc"}}`)
	}))
	defer server.Close()

	c := NewClient(config.FacebookConfig{PageID: "p", AccessToken: "t"}, WithBaseURL(server.URL))
	_, err := c.PostToPageFeed(context.Background(), "x", "")
	var gErr *GraphError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, http.StatusForbidden, gErr.HTTPStatus())
	assert.Equal(t, "missing permission", gErr.Message)
	assert.Equal(t, int64(200), gErr.Code)
	assert.Equal(t, "OAuthException", gErr.Type)
	assert.Equal(t, "abc", gErr.FBTraceID)
	assert.Equal(t, "Facebook Graph API error (403): missing permission", gErr.Error())
}

func TestPostRequiresCredentials(t *testing.T) {
	c := NewClient(config.FacebookConfig{})
	_, err := c.PostToPageFeed(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, config.DefaultGraphVersion, c.Credentials().GraphVersion)
}

func TestVerifyPageAccessWithOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v20.0/other", r.URL.Path)
		assert.Equal(t, "id,name", r.URL.Query().Get("fields"))
		assert.Equal(t, "override-token", r.URL.Query().Get("access_token"))
		fmt.Fprint(w, `{"id":"other","name":"Other Page"}`)
	}))
	defer server.Close()

	c := NewClient(config.FacebookConfig{PageID: "page-1", AccessToken: "tok"}, WithBaseURL(server.URL))
	data, used, err := c.VerifyPageAccess(context.Background(), Credentials{PageID: "other", AccessToken: "override-token", GraphVersion: "v20.0"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"other","name":"Other Page"}`, string(data))
	assert.Equal(t, "other", used.PageID)
	assert.Equal(t, "page-1", c.Credentials().PageID, "override must not persist")
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", MaskToken(""))
	assert.Equal(t, "********", MaskToken("short"))
	assert.Equal(t, "EAAB...wxyz", MaskToken("EAABcdefghijklmnopqrstuvwxyz"))
}

func TestEnvStoreSaveKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=3000\nFACEBOOK_PAGE_ID=old\n"), 0o600))
	t.Setenv(envPageID, "old")
	t.Setenv(envAccessToken, "")

	store := NewEnvStore(path)
	require.NoError(t, store.Save(Credentials{PageID: "new-page", AccessToken: "new-token"}))

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "3000", values["PORT"])
	assert.Equal(t, "new-page", values[envPageID])
	assert.Equal(t, "new-token", values[envAccessToken])
	assert.NotContains(t, values, envGraphVersion)
	assert.Equal(t, "new-page", os.Getenv(envPageID))
}

func TestEnvStoreCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	t.Setenv(envGraphVersion, "")
	require.NoError(t, NewEnvStore(path).Save(Credentials{GraphVersion: "v21.0"}))

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "v21.0", values[envGraphVersion])
}

func TestUpdateCredentialsKeepsUnsetFields(t *testing.T) {
	c := NewClient(config.FacebookConfig{PageID: "p", AccessToken: "t", GraphVersion: "v18.0"})
	got := c.UpdateCredentials(Credentials{AccessToken: " fresh "})
	assert.Equal(t, Credentials{PageID: "p", AccessToken: "fresh", GraphVersion: "v18.0"}, got)
}
