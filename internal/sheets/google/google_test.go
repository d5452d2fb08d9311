package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"bilancio/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gsheet "google.golang.org/api/sheets/v4"
)

// fakeSheets serves the two Values endpoints the client uses.
type fakeSheets struct {
	mu       sync.Mutex
	keys     []any
	appended [][]any
	paths    []string
	queries  []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.URL.Path)
	f.queries = append(f.queries, r.URL.RawQuery)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
		values := make([][]any, 0, len(f.keys))
		for _, k := range f.keys {
			values = append(values, []any{k})
		}
		_ = json.NewEncoder(w).Encode(gsheet.ValueRange{Values: values})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.appended = append(f.appended, vr.Values...)
		for _, row := range vr.Values {
			f.keys = append(f.keys, row[len(row)-1])
		}
		_ = json.NewEncoder(w).Encode(gsheet.AppendValuesResponse{
			Updates: &gsheet.UpdateValuesResponse{UpdatedRange: "'2024 Recurring'!A2:H2"},
		})
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Options{
		SpreadsheetID: "sheet-123",
		SheetName:     "Recurring",
		Endpoint:      srv.URL + "/",
		HTTPClient:    srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func occurrence() core.Occurrence {
	return core.Occurrence{
		RecurringTransactionID: "rt-1",
		AccountID:              "acct-1",
		Type:                   core.TypeExpense,
		Date:                   core.NewDate(2024, 2, 29),
		Amount:                 decimal.RequireFromString("850"),
		Category:               "Casa",
		Description:            "Affitto",
	}
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.EqualError(t, err, "missing GOOGLE_SPREADSHEET_ID")
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := New(context.Background(), Options{SpreadsheetID: "sheet-123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service account credentials")
}

func TestAppendOccurrence(t *testing.T) {
	fake := &fakeSheets{keys: []any{"Key"}}
	c := newTestClient(t, fake)

	ref, err := c.AppendOccurrence(context.Background(), occurrence())
	require.NoError(t, err)
	assert.Equal(t, "'2024 Recurring'!A2:H2", ref)

	require.Len(t, fake.appended, 1)
	assert.Equal(t, []any{"2024-02-29", "expense", "Affitto", "850.00", "Casa", "", "acct-1", "rt-1:2024-02-29"}, fake.appended[0])

	require.Len(t, fake.paths, 2)
	assert.Contains(t, fake.paths[1], "2024 Recurring")
	assert.Contains(t, fake.queries[1], "valueInputOption=RAW")
	assert.Contains(t, fake.queries[1], "insertDataOption=INSERT_ROWS")
}

func TestAppendOccurrence_SkipsExistingKey(t *testing.T) {
	fake := &fakeSheets{keys: []any{"Key", "rt-1:2024-02-29"}}
	c := newTestClient(t, fake)

	ref, err := c.AppendOccurrence(context.Background(), occurrence())
	require.NoError(t, err)
	assert.Equal(t, "'2024 Recurring'!A2:H2", ref)
	assert.Empty(t, fake.appended)
}

func TestAppendOccurrence_Twice(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	_, err := c.AppendOccurrence(context.Background(), occurrence())
	require.NoError(t, err)
	_, err = c.AppendOccurrence(context.Background(), occurrence())
	require.NoError(t, err)

	assert.Len(t, fake.appended, 1)
	// The second call is answered from the known-keys cache.
	assert.Len(t, fake.paths, 2)
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Recurring", 2024, "2024 Recurring"},
		{"2023 Recurring", 2024, "2023 Recurring"},
		{"  Spese  ", 2025, "2025 Spese"},
		{"", 2024, ""},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
		}
	}
}

func TestQuoteSheet(t *testing.T) {
	assert.Equal(t, "Recurring", quoteSheet("Recurring"))
	assert.Equal(t, "'2024 Recurring'", quoteSheet("2024 Recurring"))
	assert.Equal(t, "'Bob''s'", quoteSheet("Bob's"))
}

func TestAppendOccurrence_FormulaLikeDescriptionIsRaw(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	occ := occurrence()
	occ.Description = "=HYPERLINK(\"http://example.com\")"
	_, err := c.AppendOccurrence(context.Background(), occ)
	require.NoError(t, err)

	require.Len(t, fake.appended, 1)
	assert.Equal(t, occ.Description, fake.appended[0][2])
	assert.Contains(t, fake.queries[len(fake.queries)-1], "valueInputOption=RAW")
}
