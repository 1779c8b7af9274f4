package domain

import "time"

type Product struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Active bool    `json:"active"`
}

type Branch struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

type BillItem struct {
	ID                        string  `json:"id"`
	ProductID                 string  `json:"product_id"`
	ProductName               string  `json:"product_name"`
	Quantity                  float64 `json:"quantity"`
	UnitPrice                 float64 `json:"unit_price"`
	EffectiveUnitPrice        float64 `json:"effective_unit_price"`
	Subtotal                  float64 `json:"subtotal"`
	Status                    string  `json:"status"`
	Notes                     string  `json:"notes,omitempty"`
	IsOfferFreeItem           bool    `json:"is_offer_free_item"`
	OfferRuleKey              string  `json:"offer_rule_key,omitempty"`
	IsPriceOfferApplied       bool    `json:"is_price_offer_applied"`
	PriceOfferRuleKey         string  `json:"price_offer_rule_key,omitempty"`
	IsRandomCustomerOfferItem bool    `json:"is_random_customer_offer_item"`
	RandomOfferCampaignCode   string  `json:"random_offer_campaign_code,omitempty"`
}

// IsAuto reports whether the row was generated by the offer engine rather
// than entered by a cashier.
func (i BillItem) IsAuto() bool {
	return i.IsOfferFreeItem || i.IsRandomCustomerOfferItem
}

type Bill struct {
	ID                           string     `json:"id"`
	BranchID                     string     `json:"branch_id"`
	CustomerPhone                string     `json:"customer_phone,omitempty"`
	CustomerName                 string     `json:"customer_name,omitempty"`
	Status                       string     `json:"status"`
	Items                        []BillItem `json:"items"`
	GrossAmount                  float64    `json:"gross_amount"`
	CustomerOfferRequested       bool       `json:"customer_offer_requested"`
	CustomerOfferApplied         bool       `json:"customer_offer_applied"`
	CustomerOfferDiscount        float64    `json:"customer_offer_discount"`
	TotalPercentageOfferApplied  bool       `json:"total_percentage_offer_applied"`
	TotalPercentageOfferDiscount float64    `json:"total_percentage_offer_discount"`
	TotalAmount                  float64    `json:"total_amount"`
	CustomerRewardProcessed      bool       `json:"customer_reward_processed"`
	CustomerRewardPointsEarned   float64    `json:"customer_reward_points_earned"`
	OfferCountersProcessed       bool       `json:"offer_counters_processed"`
	InvoiceNumber                string     `json:"invoice_number,omitempty"`
	KOTNumber                    string     `json:"kot_number,omitempty"`
	Version                      int64      `json:"version"`
	CreatedBy                    string     `json:"created_by,omitempty"`
	CreatedAt                    time.Time  `json:"created_at"`
	UpdatedAt                    time.Time  `json:"updated_at"`
	CompletedAt                  *time.Time `json:"completed_at,omitempty"`
}

type Customer struct {
	ID                                string    `json:"id"`
	Phone                             string    `json:"phone"`
	Name                              string    `json:"name"`
	BillIDs                           []string  `json:"bill_ids"`
	RewardPoints                      float64   `json:"reward_points"`
	RewardProgressAmount              float64   `json:"reward_progress_amount"`
	IsOfferEligible                   bool      `json:"is_offer_eligible"`
	TotalOffersRedeemed               int       `json:"total_offers_redeemed"`
	RewardedBillIDs                   []string  `json:"rewarded_bill_ids"`
	RandomCustomerOfferAssigned       bool      `json:"random_customer_offer_assigned"`
	RandomCustomerOfferRedeemed       bool      `json:"random_customer_offer_redeemed"`
	RandomCustomerOfferProduct        string    `json:"random_customer_offer_product,omitempty"`
	RandomCustomerOfferCampaignCode   string    `json:"random_customer_offer_campaign_code,omitempty"`
	RandomCustomerOfferRedeemedBillID string    `json:"random_customer_offer_redeemed_bill_id,omitempty"`
	CreatedAt                         time.Time `json:"created_at"`
	UpdatedAt                         time.Time `json:"updated_at"`
}

// OfferCounters is the usage state every rule carries. It is shared across
// all bills and only ever changed through the settings repository.
type OfferCounters struct {
	MaxOfferCount      float64  `json:"maxOfferCount"`
	MaxCustomerCount   float64  `json:"maxCustomerCount"`
	OfferGivenCount    float64  `json:"offerGivenCount"`
	OfferCustomerCount float64  `json:"offerCustomerCount"`
	OfferCustomers     []string `json:"offerCustomers"`
}

type ProductToProductOfferRule struct {
	ID            string  `json:"id"`
	Enabled       bool    `json:"enabled"`
	BuyProductID  string  `json:"buyProductId"`
	BuyQuantity   float64 `json:"buyQuantity"`
	FreeProductID string  `json:"freeProductId"`
	FreeQuantity  float64 `json:"freeQuantity"`
	OfferCounters
}

type ProductPriceOfferRule struct {
	ID             string  `json:"id"`
	Enabled        bool    `json:"enabled"`
	ProductID      string  `json:"productId"`
	DiscountAmount float64 `json:"discountAmount"`
	OfferCounters
}

type RandomCustomerOfferProductRule struct {
	ID            string  `json:"id"`
	Enabled       bool    `json:"enabled"`
	ProductID     string  `json:"productId"`
	AssignedCount float64 `json:"assignedCount"`
	RedeemedCount float64 `json:"redeemedCount"`
}

type RandomCustomerOffer struct {
	Enabled      bool                             `json:"enabled"`
	CampaignCode string                           `json:"campaignCode"`
	Rules        []RandomCustomerOfferProductRule `json:"rules"`
}

type TotalPercentageOffer struct {
	Enabled       bool    `json:"enabled"`
	Percentage    float64 `json:"percentage"`
	MinimumAmount float64 `json:"minimumAmount"`
	OfferCounters
}

type CreditPointProgram struct {
	Enabled              bool    `json:"enabled"`
	SpendAmountPerStep   float64 `json:"spendAmountPerStep"`
	PointsPerStep        float64 `json:"pointsPerStep"`
	PointsNeededForOffer float64 `json:"pointsNeededForOffer"`
	OfferAmount          float64 `json:"offerAmount"`
	ResetOnRedeem        bool    `json:"resetOnRedeem"`
}

type CustomerRewardSettings struct {
	CreditPoints           CreditPointProgram          `json:"creditPoints"`
	ProductToProductOffers []ProductToProductOfferRule `json:"productToProductOffers"`
	ProductPriceOffers     []ProductPriceOfferRule     `json:"productPriceOffers"`
	RandomCustomerOffer    RandomCustomerOffer         `json:"randomCustomerOffer"`
	TotalPercentageOffer   TotalPercentageOffer        `json:"totalPercentageOffer"`
}

// SettingsDocument is the persisted form of CustomerRewardSettings. Raw is
// kept as stored so malformed rows can be normalized on read.
type SettingsDocument struct {
	Raw       []byte    `json:"-"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Actor struct {
	Username string
	Role     string
	BranchID string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type BillItemInput struct {
	ID        string  `json:"id,omitempty"`
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	Status    string  `json:"status,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

type BillCreateRequest struct {
	BranchID             string          `json:"branch_id"`
	CustomerPhone        string          `json:"customer_phone"`
	CustomerName         string          `json:"customer_name"`
	Status               string          `json:"status"`
	RequestCustomerOffer bool            `json:"request_customer_offer"`
	Items                []BillItemInput `json:"items"`
}

type BillUpdateRequest struct {
	Status               *string          `json:"status,omitempty"`
	CustomerPhone        *string          `json:"customer_phone,omitempty"`
	CustomerName         *string          `json:"customer_name,omitempty"`
	RequestCustomerOffer *bool            `json:"request_customer_offer,omitempty"`
	Items                *[]BillItemInput `json:"items,omitempty"`
	Version              int64            `json:"version,omitempty"`
}

type ItemStatusRequest struct {
	Status string `json:"status"`
}

type BillResponse struct {
	Bill Bill `json:"bill"`
}

// PostCompletionReport describes what one processor run changed. Each
// sub-task reports independently so a repair pass can see partial progress.
type PostCompletionReport struct {
	BillID                 string   `json:"bill_id"`
	CustomerSynced         bool     `json:"customer_synced"`
	RandomOfferRedeemed    bool     `json:"random_offer_redeemed"`
	OfferCountersApplied   bool     `json:"offer_counters_applied"`
	OfferCountersProcessed bool     `json:"offer_counters_processed"`
	RewardProcessed        bool     `json:"reward_processed"`
	PointsEarned           float64  `json:"points_earned"`
	Errors                 []string `json:"errors,omitempty"`
}

type RepairResponse struct {
	Reports []PostCompletionReport `json:"reports"`
}

type LedgerSnapshot struct {
	Phone                string  `json:"phone"`
	RewardPoints         float64 `json:"reward_points"`
	RewardProgressAmount float64 `json:"reward_progress_amount"`
	TotalOffersRedeemed  int     `json:"total_offers_redeemed"`
	BillsReplayed        int     `json:"bills_replayed"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	BranchID string `json:"branch_id"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	StatusOrdered   = "ordered"
	StatusPrepared  = "prepared"
	StatusDelivered = "delivered"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
