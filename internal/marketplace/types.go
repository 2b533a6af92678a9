// Package marketplace normalizes product listings from marketplace pages.
// Adapters claim URLs per site; the registry routes, tracks health, and
// stamps provenance with the acquisition channel and trust tier.
package marketplace

import (
	"time"

	"github.com/distillhq/distill/internal/apperr"
)

// Channel is the acquisition path for listing data.
type Channel string

const (
	ChannelOfficialAPI      Channel = "official_api"
	ChannelFinancialAPI     Channel = "financial_api"
	ChannelBrowserExtension Channel = "browser_extension"
	ChannelDataExport       Channel = "data_export"
	ChannelEmailParsing     Channel = "email_parsing"
	ChannelCookieImport     Channel = "cookie_import"
	ChannelScraping         Channel = "scraping"
	ChannelOCRExtraction    Channel = "ocr_extraction"
	ChannelLLMExtraction    Channel = "llm_extraction"
)

// TierForChannel returns the fixed trust tier for a channel. Tier 1 is
// authoritative; tier 4 is inferred.
func TierForChannel(c Channel) int {
	switch c {
	case ChannelOfficialAPI, ChannelFinancialAPI:
		return 1
	case ChannelBrowserExtension, ChannelDataExport, ChannelEmailParsing, ChannelCookieImport:
		return 2
	case ChannelScraping:
		return 3
	case ChannelOCRExtraction, ChannelLLMExtraction:
		return 4
	}
	return 4
}

// Condition is the normalized item condition.
type Condition string

const (
	ConditionNew          Condition = "new"
	ConditionUsedLikeNew  Condition = "used_like_new"
	ConditionUsedVeryGood Condition = "used_very_good"
	ConditionUsedGood     Condition = "used_good"
	ConditionUsedAccept   Condition = "used_acceptable"
	ConditionRefurbished  Condition = "refurbished"
	ConditionParts        Condition = "parts"
	ConditionUnknown      Condition = "unknown"
)

var validConditions = map[Condition]bool{
	ConditionNew: true, ConditionUsedLikeNew: true, ConditionUsedVeryGood: true,
	ConditionUsedGood: true, ConditionUsedAccept: true, ConditionRefurbished: true,
	ConditionParts: true, ConditionUnknown: true,
}

// Availability is the normalized listing state.
type Availability string

const (
	AvailabilityInStock     Availability = "in_stock"
	AvailabilityOutOfStock  Availability = "out_of_stock"
	AvailabilitySold        Availability = "sold"
	AvailabilityUnavailable Availability = "unavailable"
)

var validAvailabilities = map[Availability]bool{
	AvailabilityInStock: true, AvailabilityOutOfStock: true,
	AvailabilitySold: true, AvailabilityUnavailable: true,
}

// Freshness describes how current the extracted data is.
type Freshness string

const (
	FreshnessRealtime     Freshness = "realtime"
	FreshnessNearRealtime Freshness = "near_realtime"
	FreshnessHistorical   Freshness = "historical"
	FreshnessSnapshot     Freshness = "snapshot"
)

// Price is an amount in a currency.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Seller identifies the listing seller. Rating is 0..100 when known.
type Seller struct {
	Name   string   `json:"name,omitempty"`
	Rating *float64 `json:"rating,omitempty"`
}

// Listing is the normalized marketplace record.
type Listing struct {
	ID               string       `json:"id"`
	Marketplace      string       `json:"marketplace"`
	URL              string       `json:"url"`
	Title            string       `json:"title"`
	Price            *Price       `json:"price,omitempty"`
	ShippingCost     *Price       `json:"shippingCost,omitempty"`
	Condition        Condition    `json:"condition"`
	Availability     Availability `json:"availability"`
	SoldDate         *time.Time   `json:"soldDate,omitempty"`
	Seller           Seller       `json:"seller"`
	Images           []string     `json:"images"`
	ItemNumber       string       `json:"itemNumber,omitempty"`
	ExtractedAt      time.Time    `json:"extractedAt"`
	ExtractorVersion string       `json:"extractorVersion"`
	Confidence       float64      `json:"confidence"`
}

// Provenance records where and how a listing was obtained.
type Provenance struct {
	Channel        Channel        `json:"channel"`
	Tier           int            `json:"tier"`
	Confidence     float64        `json:"confidence"`
	Freshness      Freshness      `json:"freshness"`
	SourceID       string         `json:"sourceId"`
	ExtractedAt    time.Time      `json:"extractedAt"`
	UserConsented  bool           `json:"userConsented"`
	TermsCompliant bool           `json:"termsCompliant"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ValidationResult reports listing problems. Errors make the listing
// invalid; warnings do not.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidateListing applies the baseline structural checks every adapter
// output must pass.
func ValidateListing(l *Listing) ValidationResult {
	if l == nil {
		return ValidationResult{Valid: false, Errors: []string{"listing is nil"}}
	}
	var res ValidationResult
	if l.Marketplace == "" {
		res.Errors = append(res.Errors, "marketplace is required")
	}
	if l.URL == "" {
		res.Errors = append(res.Errors, "url is required")
	}
	if l.Title == "" {
		res.Errors = append(res.Errors, "title is required")
	}
	if !validConditions[l.Condition] {
		res.Errors = append(res.Errors, "condition is not a recognized value")
	}
	if !validAvailabilities[l.Availability] {
		res.Errors = append(res.Errors, "availability is not a recognized value")
	}
	if l.Confidence < 0 || l.Confidence > 1 {
		res.Errors = append(res.Errors, "confidence must be within [0,1]")
	}
	if l.Price != nil {
		if l.Price.Amount < 0 {
			res.Errors = append(res.Errors, "price amount must not be negative")
		}
		if len(l.Price.Currency) != 3 {
			res.Errors = append(res.Errors, "price currency must be a 3-letter code")
		}
	}
	if l.Seller.Rating != nil && (*l.Seller.Rating < 0 || *l.Seller.Rating > 100) {
		res.Errors = append(res.Errors, "seller rating must be within [0,100]")
	}
	if l.Price == nil {
		res.Warnings = append(res.Warnings, "listing has no price")
	}
	if l.ExtractedAt.IsZero() {
		res.Warnings = append(res.Warnings, "extractedAt is unset")
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// ErrNoAdapter is returned when no registered adapter claims a URL.
func ErrNoAdapter(url string) error {
	return apperr.Newf(apperr.CodeExtractionFailed, "no adapter handles %s", url).
		WithDetail("url", url)
}
