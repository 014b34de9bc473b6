package api

import "time"

type FormatID struct {
	AgentURL string `json:"agent_url"`
	ID       string `json:"id"`
}

type ProductPropertyRef struct {
	PublisherDomain string   `json:"publisher_domain,omitempty"`
	PropertyIDs     []string `json:"property_ids,omitempty"`
	PropertyTags    []string `json:"property_tags,omitempty"`
}

// PriceGuidance describes the floor and percentile bands for auction-based
// pricing options. Required iff the option is not fixed-rate.
type PriceGuidance struct {
	Floor float64 `json:"floor"`
	P25   float64 `json:"p25,omitempty"`
	P50   float64 `json:"p50,omitempty"`
	P75   float64 `json:"p75,omitempty"`
	P90   float64 `json:"p90,omitempty"`
}

// PricingOption is one pricing model a package can select. Exactly one of
// Rate (fixed) or PriceGuidance (auction) is set, matching IsFixed.
type PricingOption struct {
	PricingOptionID    string         `json:"pricing_option_id"`
	PricingModel       string         `json:"pricing_model"` // cpm|vcpm|cpc|cpcv|cpv|cpp|flat_rate
	Currency           string         `json:"currency"`
	IsFixed            bool           `json:"is_fixed"`
	Rate               float64        `json:"rate,omitempty"`
	PriceGuidance      *PriceGuidance `json:"price_guidance,omitempty"`
	MinSpendPerPackage float64        `json:"min_spend_per_package,omitempty"`
}

type SupportedFormat struct {
	FormatID FormatID `json:"format_id"`
}

type Product struct {
	ProductID        string               `json:"product_id"`
	Name             string               `json:"name"`
	DeliveryType     string               `json:"delivery_type"`
	Properties       []ProductPropertyRef `json:"properties"`
	PricingOptions   []PricingOption      `json:"pricing_options"`
	SupportedFormats []SupportedFormat    `json:"supported_formats"`
	AvailableMetrics []string             `json:"available_metrics"`
}

type AuthorizedPropertyGroup struct {
	PublisherDomain string   `json:"publisher_domain"`
	PropertyIDs     []string `json:"property_ids"`
}

type AuthorizedPropertiesResponse struct {
	Properties []AuthorizedPropertyGroup `json:"properties"`
}

type CreativeFormatsResponse struct {
	Formats        []CreativeFormat `json:"formats"`
	CreativeAgents []string         `json:"creative_agents"`
}

type CreativeFormat struct {
	FormatID     FormatID `json:"format_id"`
	Name         string   `json:"name,omitempty"`
	Type         string   `json:"type,omitempty"`
	Description  string   `json:"description,omitempty"`
	PreviewImage string   `json:"preview_image,omitempty"`
	ExampleURL   string   `json:"example_url,omitempty"`
}

type BrandManifest struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Request body for create_media_buy
type CreateMediaBuyRequest struct {
	BuyerRef      string               `json:"buyer_ref"`
	BrandManifest BrandManifest        `json:"brand_manifest"`
	Packages      []MediaBuyPackageReq `json:"packages"`
	StartTime     string               `json:"start_time"`
	EndTime       string               `json:"end_time"`
	PONumber      string               `json:"po_number,omitempty"`
	StrategyID    string               `json:"strategy_id,omitempty"`
}

type MediaBuyPackageReq struct {
	BuyerRef        string     `json:"buyer_ref"`
	ProductID       string     `json:"product_id"`
	PricingOptionID string     `json:"pricing_option_id"`
	FormatIDs       []FormatID `json:"format_ids"`
	Budget          float64    `json:"budget,omitempty"`
	Impressions     int64      `json:"impressions,omitempty"`
	BidPrice        *float64   `json:"bid_price,omitempty"`
	Pacing          string     `json:"pacing,omitempty"`
	Targeting       *Targeting `json:"targeting_overlay,omitempty"`
}

// MediaPackage is the adapter-facing unit of a campaign: one line item or
// flight to be created on a backend. It is built from a validated request
// package and discarded when the operation returns; adapters never persist it.
type MediaPackage struct {
	PackageID        string     `json:"package_id"`
	Name             string     `json:"name"`
	DeliveryType     string     `json:"delivery_type"` // guaranteed|non_guaranteed
	CPM              float64    `json:"cpm"`           // legacy fallback rate
	Impressions      int64      `json:"impressions"`
	FormatIDs        []FormatID `json:"format_ids"`
	TargetingOverlay *Targeting `json:"targeting_overlay,omitempty"`
	BuyerRef         string     `json:"buyer_ref,omitempty"`
	ProductID        string     `json:"product_id,omitempty"`
	Budget           *float64   `json:"budget,omitempty"`
	CreativeIDs      []string   `json:"creative_ids,omitempty"`
}

// PackagePricingInfo carries the resolved pricing option for one package,
// keyed by package_id in the create_media_buy call.
type PackagePricingInfo struct {
	PricingModel string   `json:"pricing_model"`
	Rate         float64  `json:"rate,omitempty"`
	Currency     string   `json:"currency"`
	IsFixed      bool     `json:"is_fixed"`
	BidPrice     *float64 `json:"bid_price,omitempty"`
}

// CreativeAsset is one creative to be synced to a media buy.
type CreativeAsset struct {
	CreativeID string    `json:"creative_id"`
	Name       string    `json:"name"`
	Format     string    `json:"format,omitempty"`
	FormatID   *FormatID `json:"format_id,omitempty"`
	MediaURL   string    `json:"media_url,omitempty"`
	ClickURL   string    `json:"click_url,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Duration   float64   `json:"duration,omitempty"`
	PackageIDs []string  `json:"package_assignments,omitempty"`
}

// DateRange bounds a delivery report query, inclusive on both ends.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PackagePerformance carries a buyer-provided performance index for one
// package. 1.0 is baseline; values above or below nudge pacing priority.
type PackagePerformance struct {
	PackageID        string  `json:"package_id"`
	PerformanceIndex float64 `json:"performance_index"`
}

// Response body for create_media_buy at the protocol layer
type CreateMediaBuyResponse struct {
	MediaBuyID string   `json:"media_buy_id"`
	BuyerRef   string   `json:"buyer_ref"`
	PackageIDs []string `json:"package_ids"`
	Message    string   `json:"message"`
}

// ErrorResponse provides a consistent error format per AdCP spec
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
