package transcript

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"typhonrelay/internal/config"
	"typhonrelay/internal/models"
)

// NewSheetsService builds a Sheets API client from a service account file, or from
// application default credentials when no file is configured.
func NewSheetsService(ctx context.Context, cfg config.SheetsConfig, extra ...option.ClientOption) (*sheets.Service, error) {
	if cfg.SpreadsheetID == "" {
		return nil, ErrNotConfigured
	}
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// SheetsSink appends transcript rows to a Google spreadsheet, creating tabs on demand.
type SheetsSink struct {
	svc           *sheets.Service
	spreadsheetID string
	chatSheet     string
	pairSheet     string

	mu    sync.Mutex
	known map[string]bool
}

func NewSheetsSink(svc *sheets.Service, cfg config.SheetsConfig) (*SheetsSink, error) {
	if svc == nil || cfg.SpreadsheetID == "" {
		return nil, ErrNotConfigured
	}
	return &SheetsSink{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		chatSheet:     cfg.ChatSheet,
		pairSheet:     cfg.PairSheet,
		known:         make(map[string]bool),
	}, nil
}

// AppendEntries writes timestamp, sessionId, userId, role, content, model, pathUsed rows.
func (s *SheetsSink) AppendEntries(ctx context.Context, entries []models.TranscriptEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []interface{}{
			timestamp(e.Timestamp),
			e.SessionID,
			e.UserID,
			string(e.Role),
			e.Content,
			e.Model,
			e.PathUsed,
		})
	}
	if err := s.append(ctx, s.chatSheet, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// AppendPair writes playerName, userMessage, userSentAt, botReply, botRepliedAt.
func (s *SheetsSink) AppendPair(ctx context.Context, pair models.ChatPair) (int, error) {
	row := []interface{}{
		pair.PlayerName,
		pair.UserMessage,
		timestamp(pair.UserSentAt),
		pair.BotReply,
		timestamp(pair.BotRepliedAt),
	}
	if err := s.append(ctx, s.pairSheet, [][]interface{}{row}); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *SheetsSink) append(ctx context.Context, sheet string, rows [][]interface{}) error {
	if err := s.ensureSheet(ctx, sheet); err != nil {
		return err
	}
	// the bare tab name lets the API find the table itself
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, sheet, &sheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to sheet %s: %w", sheet, err)
	}
	return nil
}

func (s *SheetsSink) ensureSheet(ctx context.Context, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[title] {
		return nil
	}

	doc, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range doc.Sheets {
		if sh.Properties != nil {
			s.known[sh.Properties.Title] = true
		}
	}
	if s.known[title] {
		return nil
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create sheet %s: %w", title, err)
	}
	s.known[title] = true
	return nil
}
