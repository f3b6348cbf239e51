package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// LabelKind separates product candidates from category candidates.
type LabelKind string

const (
	KindProduct  LabelKind = "product"
	KindCategory LabelKind = "category"
)

// ErrUnknownKind is returned for label kinds other than product/category.
var ErrUnknownKind = errors.New("unknown label kind")

// ParseKind accepts singular or plural spellings.
func ParseKind(s string) (LabelKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "product", "products":
		return KindProduct, nil
	case "category", "categories":
		return KindCategory, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownKind)
}

// Label is one candidate name offered to the model.
type Label struct {
	ID     int64
	Kind   LabelKind
	Name   string
	Active bool
}

// AddLabel inserts or reactivates a label. Returns true when a new row was created.
func (s *Store) AddLabel(ctx context.Context, kind LabelKind, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("empty label name")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO labels (kind, name, active) VALUES (?, ?, 1) ON CONFLICT(kind, name) DO NOTHING`,
		string(kind), name)
	if err != nil {
		return false, fmt.Errorf("add label: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE labels SET active = 1 WHERE kind = ? AND name = ?`, string(kind), name); err != nil {
		return false, fmt.Errorf("reactivate label: %w", err)
	}
	return false, nil
}

// SetLabelActive toggles a label without deleting it.
func (s *Store) SetLabelActive(ctx context.Context, kind LabelKind, name string, active bool) error {
	flag := 0
	if active {
		flag = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE labels SET active = ? WHERE kind = ? AND name = ?`, flag, string(kind), name)
	if err != nil {
		return fmt.Errorf("update label: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("label %s/%s: %w", kind, name, ErrNotFound)
	}
	return nil
}

// ListLabels returns labels of kind in insertion order. activeOnly hides
// disabled ones.
func (s *Store) ListLabels(ctx context.Context, kind LabelKind, activeOnly bool) ([]Label, error) {
	query := `SELECT id, kind, name, active FROM labels WHERE kind = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()
	var out []Label
	for rows.Next() {
		var (
			l      Label
			k      string
			active int
		)
		if err := rows.Scan(&l.ID, &k, &l.Name, &active); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		l.Kind = LabelKind(k)
		l.Active = active == 1
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) joined(ctx context.Context, kind LabelKind) (string, error) {
	labels, err := s.ListLabels(ctx, kind, true)
	if err != nil {
		return "", err
	}
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return strings.Join(names, "\n"), nil
}

// ProductLabels returns active product names joined by newlines.
func (s *Store) ProductLabels(ctx context.Context) (string, error) {
	return s.joined(ctx, KindProduct)
}

// CategoryLabels returns active category names joined by newlines.
func (s *Store) CategoryLabels(ctx context.Context) (string, error) {
	return s.joined(ctx, KindCategory)
}

// ImportCounts reports how many labels an import added per kind.
type ImportCounts struct {
	Products   int
	Categories int
	Skipped    int
}

// ImportXLSX loads labels from a workbook. Sheets named products/categories
// (or 產品/類別) are read as one name per row. Otherwise the first sheet's
// header row is searched for product and category columns.
func (s *Store) ImportXLSX(ctx context.Context, path string) (ImportCounts, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return ImportCounts{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ImportCounts{}, fmt.Errorf("no sheets")
	}

	var counts ImportCounts
	add := func(kind LabelKind, name string) error {
		created, err := s.AddLabel(ctx, kind, name)
		if err != nil {
			return err
		}
		switch {
		case !created:
			counts.Skipped++
		case kind == KindProduct:
			counts.Products++
		default:
			counts.Categories++
		}
		return nil
	}

	byName := false
	for _, sheet := range sheets {
		kind, ok := sheetKind(sheet)
		if !ok {
			continue
		}
		byName = true
		rows, err := f.GetRows(sheet)
		if err != nil {
			return counts, fmt.Errorf("read %s: %w", sheet, err)
		}
		for i, r := range rows {
			if len(r) == 0 || strings.TrimSpace(r[0]) == "" {
				continue
			}
			// skip a header cell that just names the sheet
			if i == 0 {
				if _, isHeader := headerKind(r[0]); isHeader {
					continue
				}
			}
			if err := add(kind, r[0]); err != nil {
				return counts, err
			}
		}
	}
	if byName {
		return counts, nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return counts, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return counts, fmt.Errorf("no data rows")
	}
	cols := map[int]LabelKind{}
	for i, h := range rows[0] {
		if kind, ok := headerKind(h); ok {
			cols[i] = kind
		}
	}
	if len(cols) == 0 {
		return counts, fmt.Errorf("no product or category column in %s", sheets[0])
	}
	for _, r := range rows[1:] {
		for i, kind := range cols {
			if i >= len(r) || strings.TrimSpace(r[i]) == "" {
				continue
			}
			if err := add(kind, r[i]); err != nil {
				return counts, err
			}
		}
	}
	return counts, nil
}

func sheetKind(name string) (LabelKind, bool) {
	l := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasPrefix(l, "product"), l == "產品", l == "商品":
		return KindProduct, true
	case strings.HasPrefix(l, "categor"), l == "類別", l == "分類":
		return KindCategory, true
	}
	return "", false
}

func headerKind(h string) (LabelKind, bool) {
	l := strings.ToLower(strings.TrimSpace(h))
	switch {
	case strings.Contains(l, "product"), strings.Contains(l, "產品"), strings.Contains(l, "商品"):
		return KindProduct, true
	case strings.Contains(l, "categor"), strings.Contains(l, "類別"), strings.Contains(l, "分類"):
		return KindCategory, true
	}
	return "", false
}
