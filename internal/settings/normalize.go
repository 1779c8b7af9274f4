package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"billingcore/internal/domain"
	"billingcore/internal/money"
)

// Default is the configuration used when nothing usable is stored: every
// program disabled and no rules.
func Default() domain.CustomerRewardSettings {
	return domain.CustomerRewardSettings{
		ProductToProductOffers: []domain.ProductToProductOfferRule{},
		ProductPriceOffers:     []domain.ProductPriceOfferRule{},
		RandomCustomerOffer: domain.RandomCustomerOffer{
			Rules: []domain.RandomCustomerOfferProductRule{},
		},
		TotalPercentageOffer: domain.TotalPercentageOffer{
			OfferCounters: domain.OfferCounters{OfferCustomers: []string{}},
		},
	}
}

// Parse decodes a stored settings document. It never fails to produce a
// usable value: malformed JSON yields Default() together with the decode
// error, and malformed rows are repaired or dropped.
func Parse(raw []byte) (domain.CustomerRewardSettings, error) {
	out := Default()
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return out, fmt.Errorf("decode reward settings: %w", err)
	}

	credit := object(doc["creditPoints"])
	out.CreditPoints = domain.CreditPointProgram{
		Enabled:              truthy(credit["enabled"]),
		SpendAmountPerStep:   money.NonNegative(credit["spendAmountPerStep"]),
		PointsPerStep:        money.NonNegative(credit["pointsPerStep"]),
		PointsNeededForOffer: money.NonNegative(credit["pointsNeededForOffer"]),
		OfferAmount:          money.Round2(money.NonNegative(credit["offerAmount"])),
		ResetOnRedeem:        truthy(credit["resetOnRedeem"]),
	}

	seen := map[string]struct{}{}
	for _, row := range list(doc["productToProductOffers"]) {
		r := object(row)
		rule := domain.ProductToProductOfferRule{
			ID:            text(r["id"]),
			Enabled:       truthy(r["enabled"]),
			BuyProductID:  text(r["buyProductId"]),
			BuyQuantity:   positiveOr(r["buyQuantity"], 1),
			FreeProductID: text(r["freeProductId"]),
			FreeQuantity:  positiveOr(r["freeQuantity"], 1),
			OfferCounters: counters(r),
		}
		if rule.ID == "" || rule.BuyProductID == "" || rule.FreeProductID == "" {
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			continue
		}
		seen[rule.ID] = struct{}{}
		out.ProductToProductOffers = append(out.ProductToProductOffers, rule)
	}

	seen = map[string]struct{}{}
	for _, row := range list(doc["productPriceOffers"]) {
		r := object(row)
		rule := domain.ProductPriceOfferRule{
			ID:             text(r["id"]),
			Enabled:        truthy(r["enabled"]),
			ProductID:      text(r["productId"]),
			DiscountAmount: money.Round2(money.NonNegative(r["discountAmount"])),
			OfferCounters:  counters(r),
		}
		if rule.ID == "" || rule.ProductID == "" {
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			continue
		}
		seen[rule.ID] = struct{}{}
		out.ProductPriceOffers = append(out.ProductPriceOffers, rule)
	}

	random := object(doc["randomCustomerOffer"])
	out.RandomCustomerOffer.Enabled = truthy(random["enabled"])
	out.RandomCustomerOffer.CampaignCode = text(random["campaignCode"])
	seen = map[string]struct{}{}
	for _, row := range list(random["rules"]) {
		r := object(row)
		rule := domain.RandomCustomerOfferProductRule{
			ID:            text(r["id"]),
			Enabled:       truthy(r["enabled"]),
			ProductID:     text(r["productId"]),
			AssignedCount: math.Floor(money.NonNegative(r["assignedCount"])),
			RedeemedCount: math.Floor(money.NonNegative(r["redeemedCount"])),
		}
		if rule.ID == "" || rule.ProductID == "" {
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			continue
		}
		seen[rule.ID] = struct{}{}
		out.RandomCustomerOffer.Rules = append(out.RandomCustomerOffer.Rules, rule)
	}

	total := object(doc["totalPercentageOffer"])
	out.TotalPercentageOffer = domain.TotalPercentageOffer{
		Enabled:       truthy(total["enabled"]),
		Percentage:    math.Min(100, money.NonNegative(total["percentage"])),
		MinimumAmount: money.Round2(money.NonNegative(total["minimumAmount"])),
		OfferCounters: counters(total),
	}

	return out, nil
}

// Encode is the inverse of Parse for a normalized value.
func Encode(s domain.CustomerRewardSettings) ([]byte, error) {
	return json.Marshal(s)
}

func counters(r map[string]any) domain.OfferCounters {
	c := domain.OfferCounters{
		MaxOfferCount:      math.Floor(money.NonNegative(r["maxOfferCount"])),
		MaxCustomerCount:   math.Floor(money.NonNegative(r["maxCustomerCount"])),
		OfferGivenCount:    money.NonNegative(r["offerGivenCount"]),
		OfferCustomerCount: math.Floor(money.NonNegative(r["offerCustomerCount"])),
		OfferCustomers:     []string{},
	}
	seen := map[string]struct{}{}
	for _, v := range list(r["offerCustomers"]) {
		id := text(v)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c.OfferCustomers = append(c.OfferCustomers, id)
	}
	c.OfferCustomerCount = math.Max(c.OfferCustomerCount, float64(len(c.OfferCustomers)))
	return c
}

func object(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func list(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case nil:
		return false
	default:
		return money.Number(t) != 0
	}
}

func positiveOr(v any, fallback float64) float64 {
	n := money.Number(v)
	if n <= 0 {
		return fallback
	}
	return n
}
