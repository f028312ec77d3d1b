package database

import (
	"context"
	"strings"

	"github.com/victorgomez09/garagedesk/internal/garage"
)

const partColumns = `id, name, category, COALESCE(sku, ''), stock_quantity, price_cents, min_stock, description, created_at, updated_at`

func scanPart(row scanner) (*garage.Part, error) {
	var p garage.Part
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.SKU, &p.StockQuantity, &p.PriceCents, &p.MinStock,
		&p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.LowStock = p.IsLowStock()
	return &p, nil
}

func (d *DB) CreatePart(ctx context.Context, p *garage.Part) error {
	now := d.timestamp()
	p.SKU = strings.ToUpper(strings.TrimSpace(p.SKU))
	id, err := d.insert(ctx, `
		INSERT INTO parts (name, category, sku, stock_quantity, price_cents, min_stock, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Category, nullString(p.SKU), p.StockQuantity, p.PriceCents, p.MinStock, p.Description, now, now)
	if err != nil {
		return wrapErr("create part", err)
	}
	p.ID, p.CreatedAt, p.UpdatedAt = id, now, now
	p.LowStock = p.IsLowStock()
	return nil
}

func (d *DB) GetPart(ctx context.Context, id int64) (*garage.Part, error) {
	p, err := scanPart(d.queryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE id = ?`, id))
	return p, wrapErr("get part", err)
}

// ListParts lists inventory by name; lowStockOnly keeps parts at or below min_stock.
func (d *DB) ListParts(ctx context.Context, lowStockOnly bool, opts garage.ListOptions) ([]garage.Part, error) {
	q := `SELECT ` + partColumns + ` FROM parts`
	if lowStockOnly {
		q += ` WHERE stock_quantity <= min_stock`
	}
	q += ` ORDER BY name, id LIMIT ? OFFSET ?`

	rows, err := d.query(ctx, q, clampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, wrapErr("list parts", err)
	}
	defer rows.Close()

	out := []garage.Part{}
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, wrapErr("list parts", err)
		}
		out = append(out, *p)
	}
	return out, wrapErr("list parts", rows.Err())
}

func (d *DB) UpdatePart(ctx context.Context, p *garage.Part) error {
	p.SKU = strings.ToUpper(strings.TrimSpace(p.SKU))
	if err := d.execOne(ctx, "update part", `
		UPDATE parts SET name = ?, category = ?, sku = ?, stock_quantity = ?, price_cents = ?, min_stock = ?,
			description = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Category, nullString(p.SKU), p.StockQuantity, p.PriceCents, p.MinStock, p.Description,
		d.timestamp(), p.ID); err != nil {
		return err
	}
	fresh, err := d.GetPart(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *fresh
	return nil
}

func (d *DB) DeletePart(ctx context.Context, id int64) error {
	return d.execOne(ctx, "delete part", `DELETE FROM parts WHERE id = ?`, id)
}
