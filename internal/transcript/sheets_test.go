package transcript

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"typhonrelay/internal/config"
)

type fakeSheetsAPI struct {
	mu       sync.Mutex
	tabs     []string
	created  []string
	appended map[string][][]interface{}
	gets     int
}

func (f *fakeSheetsAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path
		switch {
		case r.Method == http.MethodGet && path == "/v4/spreadsheets/sheet-123":
			f.gets++
			var sheetsOut []map[string]any
			for _, tab := range f.tabs {
				sheetsOut = append(sheetsOut, map[string]any{"properties": map[string]any{"title": tab}})
			}
			json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-123", "sheets": sheetsOut})
		case r.Method == http.MethodPost && path == "/v4/spreadsheets/sheet-123:batchUpdate":
			var body struct {
				Requests []struct {
					AddSheet struct {
						Properties struct {
							Title string `json:"title"`
						} `json:"properties"`
					} `json:"addSheet"`
				} `json:"requests"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			title := body.Requests[0].AddSheet.Properties.Title
			f.tabs = append(f.tabs, title)
			f.created = append(f.created, title)
			json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-123"})
		case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
			assert.Equal(t, "USER_ENTERED", r.URL.Query().Get("valueInputOption"))
			tab := strings.TrimSuffix(strings.TrimPrefix(path, "/v4/spreadsheets/sheet-123/values/"), ":append")
			var body struct {
				Values [][]interface{} `json:"values"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.appended[tab] = append(f.appended[tab], body.Values...)
			json.NewEncoder(w).Encode(map[string]any{"updates": map[string]any{"updatedRows": len(body.Values)}})
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.String())
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newFakeSheetsSink(t *testing.T, api *fakeSheetsAPI) *SheetsSink {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	cfg := config.SheetsConfig{SpreadsheetID: "sheet-123", ChatSheet: "Chats", PairSheet: "Sheet3"}
	svc, err := NewSheetsService(context.Background(), cfg,
		option.WithEndpoint(server.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	sink, err := NewSheetsSink(svc, cfg)
	require.NoError(t, err)
	return sink
}

func TestSheetsSinkCreatesTabsAndAppends(t *testing.T) {
	api := &fakeSheetsAPI{tabs: []string{"Chats"}, appended: map[string][][]interface{}{}}
	sink := newFakeSheetsSink(t, api)
	ex := sampleExchange()

	require.NoError(t, Write(context.Background(), sink, ex))
	require.NoError(t, Write(context.Background(), sink, ex))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"Sheet3"}, api.created, "only the missing tab is created")
	assert.Equal(t, 1, api.gets, "tab lookups are cached")

	chats := api.appended["Chats"]
	require.Len(t, chats, 4)
	assert.Equal(t, []interface{}{"2024-05-01T10:00:00.000Z", "s1", "7", "user", "Hello", "m", "/v1/chat/completions"}, chats[0])

	pairs := api.appended["Sheet3"]
	require.Len(t, pairs, 2)
	assert.Equal(t, []interface{}{"Alice", "Hello", "2024-05-01T10:00:00.000Z", "Hi", "2024-05-01T10:00:01.000Z"}, pairs[0])
}

func TestSheetsNotConfigured(t *testing.T) {
	_, err := NewSheetsService(context.Background(), config.SheetsConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewSheetsSink(nil, config.SheetsConfig{SpreadsheetID: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
