package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/numbershop/internal/models"
)

// stockQuery counts unsold ID accounts; SESSION rows are never sold by the OTP flow.
const stockQuery = `
	SELECT c.id, c.name, c.emoji, c.price, c.created_at,
	       COUNT(a.id) FILTER (WHERE NOT a.is_sold) AS available
	FROM countries c
	LEFT JOIN accounts a ON a.country_id = c.id AND a.kind = 'ID'`

// Countries lists countries ordered by name; inStockOnly hides sold-out ones.
func (s *Store) Countries(ctx context.Context, inStockOnly bool) ([]models.CountryStock, error) {
	q := stockQuery + ` GROUP BY c.id`
	if inStockOnly {
		q += ` HAVING COUNT(a.id) FILTER (WHERE NOT a.is_sold) > 0`
	}
	q += ` ORDER BY c.name`
	var out []models.CountryStock
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("list countries: %w", err)
	}
	return out, nil
}

// CountryStock loads one country with its available count.
func (s *Store) CountryStock(ctx context.Context, countryID int64) (models.CountryStock, error) {
	var out models.CountryStock
	err := s.db.GetContext(ctx, &out, stockQuery+` WHERE c.id = $1 GROUP BY c.id`, countryID)
	if err != nil {
		return models.CountryStock{}, notFound(err, "country stock")
	}
	return out, nil
}

// CountrySeed is a country inserted on first start.
type CountrySeed struct {
	Name  string
	Emoji string
	Price decimal.Decimal
}

// SeedCountries inserts missing countries and returns how many were added.
func (s *Store) SeedCountries(ctx context.Context, seeds []CountrySeed) (int, error) {
	added := 0
	for _, c := range seeds {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO countries (name, emoji, price) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING`, c.Name, c.Emoji, c.Price)
		if err != nil {
			return added, fmt.Errorf("seed country %q: %w", c.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// AddAccount stocks a number. The same phone may be stocked again after a sale.
func (s *Store) AddAccount(ctx context.Context, a models.Account) (int64, error) {
	if a.Kind == "" {
		a.Kind = models.KindID
	}
	var id int64
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO accounts (country_id, phone_number, session_data, kind, twofa_password)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.CountryID, a.PhoneNumber, a.SessionData, a.Kind, a.TwoFAPassword)
	if err != nil {
		return 0, fmt.Errorf("add account: %w", err)
	}
	return id, nil
}
