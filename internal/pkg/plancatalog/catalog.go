// Package plancatalog loads the plan tiers from a YAML file and seeds them
// into the plans table. Feature bundles are closed: unknown keys and
// out-of-range quotas are rejected when the file is loaded.
package plancatalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gopkg.in/yaml.v3"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository"
)

// Entry is one plan in the catalog file.
type Entry struct {
	ID           uint                `yaml:"id" validate:"required"`
	Name         string              `yaml:"name" validate:"required,max=100"`
	Type         models.PlanType     `yaml:"type" validate:"required,oneof=free starter professional agency"`
	PriceMonthly int64               `yaml:"priceMonthly" validate:"gte=0"`
	PriceYearly  int64               `yaml:"priceYearly" validate:"gte=0"`
	Features     models.PlanFeatures `yaml:"features"`
	IsActive     *bool               `yaml:"isActive"`
	SortOrder    int                 `yaml:"sortOrder"`
}

type file struct {
	Plans []Entry `yaml:"plans"`
}

var validate = validator.New()

// LoadFile reads and validates a catalog file.
func LoadFile(path string) ([]models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	plans, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plans, nil
}

// Parse decodes and validates a catalog document.
func Parse(r io.Reader) ([]models.Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc file
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("plan catalog is empty")
		}
		return nil, fmt.Errorf("invalid plan catalog: %w", err)
	}
	if len(doc.Plans) == 0 {
		return nil, errors.New("plan catalog defines no plans")
	}

	seen := make(map[uint]bool, len(doc.Plans))
	plans := make([]models.Plan, 0, len(doc.Plans))
	for i, e := range doc.Plans {
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("plan #%d (%q): %w", i+1, e.Name, err)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("plan id %d is defined twice", e.ID)
		}
		seen[e.ID] = true

		active := true
		if e.IsActive != nil {
			active = *e.IsActive
		}
		plans = append(plans, models.Plan{
			ID:           e.ID,
			Name:         e.Name,
			Type:         e.Type,
			PriceMonthly: e.PriceMonthly,
			PriceYearly:  e.PriceYearly,
			Features:     e.Features,
			IsActive:     active,
			SortOrder:    e.SortOrder,
		})
	}
	return plans, nil
}

// Seed upserts the plans by id. Plans missing from the catalog are left
// untouched: they may still be referenced by subscriptions.
func Seed(ctx context.Context, store repository.DataStore, plans []models.Plan) error {
	return store.Transaction(ctx, func(tx repository.UnitOfWork) error {
		for i := range plans {
			if err := tx.Plans().Upsert(&plans[i]); err != nil {
				return fmt.Errorf("failed to upsert plan %d: %w", plans[i].ID, err)
			}
		}
		log.Infof("[PlanCatalog] Seeded %d plan(s)", len(plans))
		return nil
	})
}

// ActivePlans lists purchasable plans in display order.
func ActivePlans(ctx context.Context, store repository.DataStore) ([]models.Plan, error) {
	return store.WithContext(ctx).Plans().ListActive()
}
