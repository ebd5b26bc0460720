/*
items.go - Sale line-item validation and total derivation

PURPOSE:
  Pure functions with no side effects. The billing service validates every
  item of a sale before any write, then stores each item with the total
  computed here.

FORMULAS:
  coil:             price_per_ton * weight
  corrugated_sheet: quantity * length * price_per_ton
  steel_slitting:   price_per_ton * weight
  anything else:    total_amount as supplied

  Corrugated sheets measure along Length. Rows written before that column
  existed carried the length in Width, so Width is used when Length is absent
  or zero.
*/
package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ComputeItemTotal derives the total of one line item.
func ComputeItemTotal(it SaleItem) decimal.Decimal {
	switch it.ProductType {
	case ProductCoil, ProductSteelSlitting:
		return it.PricePerTon.Mul(valueOrZero(it.Weight))
	case ProductCorrugatedSheet:
		return it.Quantity.Mul(valueOrZero(SheetLength(it))).Mul(it.PricePerTon)
	default:
		return it.TotalAmount
	}
}

// SheetLength returns the length of a corrugated sheet item. A zero Length
// counts as absent.
func SheetLength(it SaleItem) decimal.NullDecimal {
	if it.Length.Valid && !it.Length.Decimal.IsZero() {
		return it.Length
	}
	return it.Width
}

// ValidateItem checks the fields required by the item's product type.
// field names in errors are prefixed with prefix, e.g. "items[2]".
func ValidateItem(prefix string, it SaleItem) error {
	if strings.TrimSpace(it.Description) == "" {
		return Invalid(prefix+".description", "is required")
	}
	if strings.TrimSpace(string(it.ProductType)) == "" {
		return Invalid(prefix+".product_type", "is required")
	}

	switch it.ProductType {
	case ProductCoil:
		if err := requirePositive(prefix+".thickness", it.Thickness); err != nil {
			return err
		}
		if err := requirePositive(prefix+".width", it.Width); err != nil {
			return err
		}
		return requirePositive(prefix+".weight", it.Weight)
	case ProductCorrugatedSheet:
		if err := requirePositive(prefix+".length", SheetLength(it)); err != nil {
			return err
		}
		return requirePositiveQuantity(prefix, it.Quantity)
	case ProductSteelSlitting:
		if err := requirePositive(prefix+".weight", it.Weight); err != nil {
			return err
		}
		return requirePositiveQuantity(prefix, it.Quantity)
	}
	return nil
}

// PrepareItems validates every item and returns copies carrying their
// computed totals. The first invalid item aborts the whole set.
func PrepareItems(items []SaleItem) ([]SaleItem, error) {
	out := make([]SaleItem, len(items))
	for i, it := range items {
		if err := ValidateItem(fmt.Sprintf("items[%d]", i), it); err != nil {
			return nil, err
		}
		it.TotalAmount = ComputeItemTotal(it)
		out[i] = it
	}
	return out, nil
}

func requirePositive(field string, v decimal.NullDecimal) error {
	if !v.Valid {
		return Invalid(field, "is required")
	}
	if !v.Decimal.IsPositive() {
		return Invalid(field, "must be greater than zero")
	}
	return nil
}

func requirePositiveQuantity(prefix string, q decimal.Decimal) error {
	if !q.IsPositive() {
		return Invalid(prefix+".quantity", "must be greater than zero")
	}
	return nil
}

func valueOrZero(v decimal.NullDecimal) decimal.Decimal {
	if !v.Valid {
		return decimal.Zero
	}
	return v.Decimal
}
