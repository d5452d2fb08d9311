package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/log"
	ports "bilancio/internal/sheets"

	"github.com/hashicorp/golang-lru/v2/expirable"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// keyColumn holds OccurrenceKey, the last column written by OccurrenceRow.
const keyColumn = "H"

const (
	knownKeysSize = 4096
	knownKeysTTL  = time.Hour
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// sheetBase is the sheet name without year; rows go to "<year> <base>".
	sheetBase string
	// known maps occurrence keys already in the sheet to their row reference,
	// sparing a column read for redelivered messages.
	known *expirable.LRU[string, string]
}

var _ ports.OccurrenceWriter = (*Client)(nil)

// Options configures the Sheets client.
type Options struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string

	// Endpoint and HTTPClient replace the Google endpoint and authentication,
	// used to point the client at a fake server.
	Endpoint   string
	HTTPClient *http.Client
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if strings.TrimSpace(opts.SheetName) == "" {
		opts.SheetName = "Recurring"
	}

	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(opts.SpreadsheetID),
		sheetBase:     strings.TrimSpace(opts.SheetName),
		known:         expirable.NewLRU[string, string](knownKeysSize, nil, knownKeysTTL),
	}, nil
}

func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	if opts.HTTPClient != nil {
		clientOpts := []goption.ClientOption{goption.WithHTTPClient(opts.HTTPClient)}
		if opts.Endpoint != "" {
			clientOpts = append(clientOpts, goption.WithEndpoint(opts.Endpoint))
		}
		return gsheet.NewService(ctx, clientOpts...)
	}

	serviceAccountJSON := strings.TrimSpace(opts.ServiceAccountJSON)
	serviceAccountFile := strings.TrimSpace(opts.ServiceAccountFile)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		log.FieldComponent, log.ComponentSheets,
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	clientOpts := []goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, goption.WithEndpoint(opts.Endpoint))
	}

	service, err := gsheet.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendOccurrence appends o to the sheet of its year. When a row with the same
// key is already present, its reference is returned and nothing is written.
func (c *Client) AppendOccurrence(ctx context.Context, o core.Occurrence) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.sheetBase, o.Date.Year())
	key := ports.OccurrenceKey(o)
	if ref, ok := c.known.Get(key); ok {
		return ref, nil
	}

	if ref, found, err := c.findKey(ctx, sheet, key); err != nil {
		return "", err
	} else if found {
		slog.InfoContext(ctx, "Occurrence already present in sheet",
			log.FieldComponent, log.ComponentSheets,
			log.FieldMessageID, key,
			log.FieldSheetsRef, ref)
		c.known.Add(key, ref)
		return ref, nil
	}

	rng := fmt.Sprintf("%s!A:%s", quoteSheet(sheet), keyColumn)
	vr := &gsheet.ValueRange{Values: [][]any{ports.OccurrenceRow(o)}}

	// RAW keeps a description such as "=1+1" from being evaluated as a formula.
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.known.Add(key, ref)
	return ref, nil
}

// findKey scans the key column for key and returns the matching row reference.
func (c *Client) findKey(ctx context.Context, sheet, key string) (string, bool, error) {
	rng := fmt.Sprintf("%s!%s:%s", quoteSheet(sheet), keyColumn, keyColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", rng, err)
	}
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == key {
			return fmt.Sprintf("%s!A%d:%s%d", quoteSheet(sheet), i+1, keyColumn, i+1), true, nil
		}
	}
	return "", false, nil
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// quoteSheet wraps sheet names containing spaces for A1 notation.
func quoteSheet(name string) string {
	if strings.ContainsAny(name, " '!") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}
