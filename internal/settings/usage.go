package settings

import (
	"slices"

	"billingcore/internal/domain"
	"billingcore/internal/money"
)

// Usage is what one completed bill consumed from the offer rules.
type Usage struct {
	CustomerID      string
	FreeRules       map[string]float64
	PriceRules      map[string]float64
	TotalPercentage bool
}

func (u Usage) Empty() bool {
	return len(u.FreeRules) == 0 && len(u.PriceRules) == 0 && !u.TotalPercentage
}

// ApplyUsage adds u to the counters in s. Rules that no longer exist are
// ignored.
func ApplyUsage(s *domain.CustomerRewardSettings, u Usage) {
	for i := range s.ProductToProductOffers {
		if inc, ok := u.FreeRules[s.ProductToProductOffers[i].ID]; ok && inc > 0 {
			record(&s.ProductToProductOffers[i].OfferCounters, u.CustomerID, inc)
		}
	}
	for i := range s.ProductPriceOffers {
		if inc, ok := u.PriceRules[s.ProductPriceOffers[i].ID]; ok && inc > 0 {
			record(&s.ProductPriceOffers[i].OfferCounters, u.CustomerID, inc)
		}
	}
	if u.TotalPercentage {
		record(&s.TotalPercentageOffer.OfferCounters, u.CustomerID, 1)
	}
}

func record(c *domain.OfferCounters, customerID string, inc float64) {
	c.OfferGivenCount = money.Round2(c.OfferGivenCount + inc)
	if customerID == "" || slices.Contains(c.OfferCustomers, customerID) {
		return
	}
	c.OfferCustomers = append(c.OfferCustomers, customerID)
	c.OfferCustomerCount = max(c.OfferCustomerCount+1, float64(len(c.OfferCustomers)))
}

// IncrementRandomAssigned bumps assignedCount on the rule with ruleID.
func IncrementRandomAssigned(s *domain.CustomerRewardSettings, ruleID string) bool {
	for i := range s.RandomCustomerOffer.Rules {
		if s.RandomCustomerOffer.Rules[i].ID == ruleID {
			s.RandomCustomerOffer.Rules[i].AssignedCount++
			return true
		}
	}
	return false
}

// IncrementRandomRedeemed bumps redeemedCount on the first rule offering
// productID, only while campaignCode is still the active campaign.
func IncrementRandomRedeemed(s *domain.CustomerRewardSettings, campaignCode string, productID string) bool {
	if campaignCode == "" || s.RandomCustomerOffer.CampaignCode != campaignCode {
		return false
	}
	for i := range s.RandomCustomerOffer.Rules {
		if s.RandomCustomerOffer.Rules[i].ProductID == productID {
			s.RandomCustomerOffer.Rules[i].RedeemedCount++
			return true
		}
	}
	return false
}
