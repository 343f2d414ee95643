// Package repo – CSV principal repository.
//
// The CSV backend keeps one human-readable row per principal under a fixed
// header:
//
//	Name,Email,Phone,Password,Contests
//	Ada,ada@example.com,+15550100,$2a$10$...,leetcode-weekly;leetcode-biweekly
//
// New principals are appended as a single row. Updates rewrite the file
// through a temp file and rename so a crash never leaves a truncated file.
// All file access goes through one mutex; the service layer above keeps the
// authoritative in-memory view.
package repo

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tbourn/contest-notifier/internal/domain"
)

// ErrCorruptCSV is returned when the file does not match the expected layout.
var ErrCorruptCSV = errors.New("users csv is corrupt")

var csvHeader = []string{"Name", "Email", "Phone", "Password", "Contests"}

// contestSep joins contest names inside the Contests column.
const contestSep = ";"

// CSVRepository persists principals to a CSV file.
type CSVRepository struct {
	path string
	mu   sync.Mutex
}

// NewCSVRepository opens path, creating it with just the header row when it
// does not exist yet.
func NewCSVRepository(path string) (*CSVRepository, error) {
	r := &CSVRepository{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := r.rewrite(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the backing file path.
func (r *CSVRepository) Path() string { return r.path }

// LoadPrincipals reads every row.
func (r *CSVRepository) LoadPrincipals(ctx context.Context) ([]domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readAll()
}

// SavePrincipal appends p when its email is new, otherwise rewrites the file
// with p's row replaced.
func (r *CSVRepository) SavePrincipal(ctx context.Context, p domain.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.readAll()
	if err != nil {
		return err
	}
	for i := range rows {
		if rows[i].ID == p.ID {
			rows[i] = p
			return r.rewrite(rows)
		}
	}
	return r.append(p)
}

func (r *CSVRepository) readAll() ([]domain.Principal, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(csvHeader)
	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []domain.Principal{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCSV, err)
	}
	for i, h := range csvHeader {
		if strings.TrimSpace(head[i]) != h {
			return nil, fmt.Errorf("%w: unexpected header %v", ErrCorruptCSV, head)
		}
	}

	var out []domain.Principal
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptCSV, err)
		}
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func (r *CSVRepository) append(p domain.Principal) error {
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(toRecord(p)); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *CSVRepository) rewrite(ps []domain.Principal) error {
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".users-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	records := make([][]string, 0, len(ps)+1)
	records = append(records, csvHeader)
	for _, p := range ps {
		records = append(records, toRecord(p))
	}
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

func toRecord(p domain.Principal) []string {
	return []string{p.Name, p.Email, p.Phone, p.PasswordHash, strings.Join(domain.UniqueContests(p.Contests), contestSep)}
}

func fromRecord(rec []string) domain.Principal {
	var contests []string
	if s := strings.TrimSpace(rec[4]); s != "" {
		contests = strings.Split(s, contestSep)
	}
	return domain.Principal{
		ID:           domain.PrincipalID(rec[1]),
		Name:         rec[0],
		Email:        rec[1],
		Phone:        rec[2],
		PasswordHash: rec[3],
		Contests:     domain.UniqueContests(contests),
	}
}
