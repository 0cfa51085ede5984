package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/shared"
)

func validateFields(f ProductFields) error {
	if err := validMoney("base_price", f.BasePrice); err != nil {
		return err
	}
	if f.WholesalePrice.Valid {
		if err := validMoney("wholesale_price", f.WholesalePrice.Decimal); err != nil {
			return err
		}
	}
	if f.PromoPrice.Valid {
		if err := validMoney("promo_price", f.PromoPrice.Decimal); err != nil {
			return err
		}
		if f.PromoStartsAt == nil || f.PromoEndsAt == nil {
			return shared.Validation("promo_price requires promo_starts_at and promo_ends_at")
		}
	}
	if f.PromoStartsAt != nil && f.PromoEndsAt != nil && f.PromoEndsAt.Before(*f.PromoStartsAt) {
		return shared.Validation("promo_ends_at must not precede promo_starts_at")
	}
	return nil
}

func validMoney(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return shared.Validation("%s must be greater than zero", field)
	}
	if !v.Equal(v.Round(2)) {
		return shared.Validation("%s must have at most two decimal places", field)
	}
	return nil
}
