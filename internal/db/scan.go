package db

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// scanner is implemented by pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...any) error
}

// numeric columns are selected as ::text and parsed here so no precision
// passes through float64
type numeric struct {
	dst *decimal.Decimal
	raw string
}

func (n *numeric) parse() error {
	d, err := decimal.NewFromString(n.raw)
	if err != nil {
		return fmt.Errorf("failed to parse numeric %q: %w", n.raw, err)
	}
	*n.dst = d
	return nil
}

type nullNumeric struct {
	dst **decimal.Decimal
	raw *string
}

func (n *nullNumeric) parse() error {
	if n.raw == nil {
		*n.dst = nil
		return nil
	}
	d, err := decimal.NewFromString(*n.raw)
	if err != nil {
		return fmt.Errorf("failed to parse numeric %q: %w", *n.raw, err)
	}
	*n.dst = &d
	return nil
}

type parser interface {
	parse() error
}

func parseAll(ps ...parser) error {
	for _, p := range ps {
		if err := p.parse(); err != nil {
			return err
		}
	}
	return nil
}

func nullString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
