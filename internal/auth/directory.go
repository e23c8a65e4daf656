package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/sheets/v4"

	"typhonrelay/internal/models"
)

// Directory resolves a login PIN to a player.
type Directory interface {
	LookupPIN(ctx context.Context, pin string) (*models.Player, error)
}

// SQLDirectory reads players from the players table.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (d *SQLDirectory) LookupPIN(ctx context.Context, pin string) (*models.Player, error) {
	var p models.Player
	err := d.db.QueryRowContext(ctx,
		`SELECT player_id, name, pin FROM players WHERE pin = ?`, pin,
	).Scan(&p.ID, &p.Name, &p.PIN)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("lookup player: %w", err)
	}
	return &p, nil
}

// AddPlayer inserts or replaces the player owning p.PIN.
func (d *SQLDirectory) AddPlayer(ctx context.Context, p models.Player) error {
	if !validPIN(p.PIN) {
		return ErrInvalidPIN
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM players WHERE pin = ?`, p.PIN); err != nil {
		return fmt.Errorf("replace player: %w", err)
	}
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO players (player_id, name, pin, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.PIN, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

// SeedPlayers adds every player, replacing existing rows that share a PIN.
func (d *SQLDirectory) SeedPlayers(ctx context.Context, players []models.Player) error {
	for _, p := range players {
		if err := d.AddPlayer(ctx, p); err != nil {
			return fmt.Errorf("seed player %q: %w", p.Name, err)
		}
	}
	return nil
}

// SheetDirectory reads players from a spreadsheet range laid out as id, name, pin.
// Rows whose pin cell is not a PIN (such as a header) are ignored.
type SheetDirectory struct {
	svc           *sheets.Service
	spreadsheetID string
	readRange     string
}

func NewSheetDirectory(svc *sheets.Service, spreadsheetID, readRange string) *SheetDirectory {
	return &SheetDirectory{svc: svc, spreadsheetID: spreadsheetID, readRange: readRange}
}

func (d *SheetDirectory) LookupPIN(ctx context.Context, pin string) (*models.Player, error) {
	resp, err := d.svc.Spreadsheets.Values.Get(d.spreadsheetID, d.readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read player sheet: %w", err)
	}
	for _, row := range resp.Values {
		if len(row) < 3 {
			continue
		}
		if cell(row, 2) != pin {
			continue
		}
		return &models.Player{ID: cell(row, 0), Name: cell(row, 1), PIN: pin}, nil
	}
	return nil, ErrPlayerNotFound
}

func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

// ChainDirectory asks each directory in turn until one knows the PIN.
type ChainDirectory []Directory

func (c ChainDirectory) LookupPIN(ctx context.Context, pin string) (*models.Player, error) {
	var errs []error
	for _, d := range c {
		p, err := d.LookupPIN(ctx, pin)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPlayerNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, ErrPlayerNotFound
}
