package marketplace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEbay_CanHandle(t *testing.T) {
	a := NewEbayAdapter()
	assert.True(t, a.CanHandle("https://www.ebay.com/itm/123"))
	assert.True(t, a.CanHandle("https://www.ebay.co.uk/itm/nintendo-switch/204512"))
	assert.False(t, a.CanHandle("https://www.ebay.com/sch/i.html?_nkw=switch"))
	assert.False(t, a.CanHandle("https://example.com/itm/123"))
	assert.False(t, a.CanHandle("://bad"))
}

func TestEbay_ExtractSoldListing(t *testing.T) {
	page := `<html><head><title>Nintendo Switch OLED | eBay</title></head>
	<body><h1>Nintendo Switch OLED</h1>
	<div class="price">US $299.99</div>
	<div>Condition: Pre-owned</div>
	</body></html>`

	a := NewEbayAdapter()
	listing, err := a.Extract(context.Background(), []byte(page), "https://www.ebay.com/itm/123", ExtractOptions{})
	require.NoError(t, err)
	require.NotNil(t, listing)

	assert.Equal(t, "Nintendo Switch OLED", listing.Title)
	require.NotNil(t, listing.Price)
	assert.Equal(t, 299.99, listing.Price.Amount)
	assert.Equal(t, "USD", listing.Price.Currency)
	assert.Equal(t, AvailabilitySold, listing.Availability)
	assert.Equal(t, ConditionUsedGood, listing.Condition)
	assert.Equal(t, "123", listing.ItemNumber)
	assert.GreaterOrEqual(t, listing.Confidence, 0.5)
	assert.LessOrEqual(t, listing.Confidence, 0.9)

	v := a.Validate(listing)
	assert.True(t, v.Valid, "errors: %v", v.Errors)
}

func TestEbay_ActiveListingOverridesSoldDefault(t *testing.T) {
	page := `<html><body><h1>Widget</h1><div>US $10.00</div><button>Add to cart</button></body></html>`
	listing, err := NewEbayAdapter().Extract(context.Background(), []byte(page), "https://www.ebay.com/itm/9", ExtractOptions{})
	require.NoError(t, err)
	require.NotNil(t, listing)
	assert.Equal(t, AvailabilityInStock, listing.Availability)
}

func TestEbay_CurrencyVariants(t *testing.T) {
	cases := map[string]string{
		"Price: £49.99":     "GBP",
		"Price: €35.00":     "EUR",
		"Price: C $120.50":  "CAD",
		"Price: AU $88.00":  "AUD",
		"Price: US $299.99": "USD",
		"Price: $15.25":     "USD",
	}
	for text, want := range cases {
		p := parseEbayPrice(text)
		require.NotNil(t, p, text)
		assert.Equal(t, want, p.Currency, text)
	}
	assert.Equal(t, 1234.56, parseEbayPrice("US $1,234.56").Amount)
}

func TestEbay_NoTitleYieldsNoListing(t *testing.T) {
	listing, err := NewEbayAdapter().Extract(context.Background(), []byte("<html><body></body></html>"), "https://www.ebay.com/itm/1", ExtractOptions{})
	require.NoError(t, err)
	assert.Nil(t, listing)
}

func TestEbay_ItemNumberWithSlug(t *testing.T) {
	assert.Equal(t, "204512", itemNumberFrom("https://www.ebay.com/itm/nintendo-switch-oled/204512"))
	assert.Equal(t, "123", itemNumberFrom("https://www.ebay.com/itm/123?hash=abc"))
	assert.Equal(t, "", itemNumberFrom("https://www.ebay.com/usr/someone"))
}
