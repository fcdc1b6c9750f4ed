package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	priceKeySubscription  = "subscription"
	priceKeyOneTimePrefix = "one_time:"
)

// PriceTable maps purchasable items to Stripe price ids.
type PriceTable struct {
	Subscription string
	// OneTime is keyed by persona id.
	OneTime map[string]string
}

// OneTimePrice returns the price id configured for a persona unlock.
func (p PriceTable) OneTimePrice(personaID string) (string, bool) {
	id, ok := p.OneTime[personaID]
	return id, ok && id != ""
}

// ParsePriceTable decodes the PRICE_TABLE JSON document. A missing
// subscription price is an error; the service cannot sell premium without it.
func ParsePriceTable(raw string) (PriceTable, error) {
	var entries map[string]string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return PriceTable{}, fmt.Errorf("price table is not a JSON object of strings: %w", err)
	}

	table := PriceTable{OneTime: make(map[string]string)}
	for key, priceID := range entries {
		priceID = strings.TrimSpace(priceID)
		switch {
		case key == priceKeySubscription:
			table.Subscription = priceID
		case strings.HasPrefix(key, priceKeyOneTimePrefix):
			persona := strings.TrimPrefix(key, priceKeyOneTimePrefix)
			if persona == "" || priceID == "" {
				return PriceTable{}, fmt.Errorf("price table entry %q is incomplete", key)
			}
			table.OneTime[persona] = priceID
		default:
			return PriceTable{}, fmt.Errorf("price table has unknown key %q", key)
		}
	}

	if table.Subscription == "" {
		return PriceTable{}, fmt.Errorf("price table has no %q price", priceKeySubscription)
	}
	return table, nil
}

// Prices parses the configured price table.
func (b BillingConfig) Prices() (PriceTable, error) {
	return ParsePriceTable(b.PriceTableJSON)
}
