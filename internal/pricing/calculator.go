// Package pricing turns a selected bundle/addon/alert/seat configuration
// into a charge amount and a human-readable description. It is pure: no
// I/O, no clock, no store access.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/stashworks/jobhub/internal/config"
	"go.uber.org/fx"
)

var (
	ErrUnknownBundle = errors.New("unknown_bundle")
	ErrUnknownAddon  = errors.New("unknown_veri_addon")
	ErrInvalidSeats  = errors.New("invalid_extra_seats")
)

// Selection is a requested subscription configuration.
type Selection struct {
	Bundle     string  `json:"bundle"`
	VeriAddon  *string `json:"veri_addon,omitempty"`
	StashAlert bool    `json:"stash_alert"`
	ExtraSeats int     `json:"extra_seats"`
}

// Quote is the priced result of a Selection.
type Quote struct {
	Description string
	Amount      float64
}

type Calculator struct {
	holder *config.PricingHolder
}

func NewCalculator(holder *config.PricingHolder) *Calculator {
	return &Calculator{holder: holder}
}

// Quote prices a full selection. Extra seats on the starter tier are
// force-zeroed by callers before pricing; a nonzero count here is an error
// rather than a silent zero charge.
func (c *Calculator) Quote(sel Selection) (Quote, error) {
	catalog := c.holder.Get()

	bundle, ok := catalog.Bundles[sel.Bundle]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownBundle, sel.Bundle)
	}
	if sel.ExtraSeats < 0 {
		return Quote{}, ErrInvalidSeats
	}
	if sel.Bundle == config.BundleStarter && sel.ExtraSeats > 0 {
		return Quote{}, ErrInvalidSeats
	}

	total := bundle.Price
	parts := []string{fmt.Sprintf("%s bundle", sel.Bundle)}

	if sel.VeriAddon != nil {
		addon, ok := catalog.VeriAddons[*sel.VeriAddon]
		if !ok {
			return Quote{}, fmt.Errorf("%w: %s", ErrUnknownAddon, *sel.VeriAddon)
		}
		total += addon.Price
		parts = append(parts, fmt.Sprintf("veri %s addon", *sel.VeriAddon))
	}

	if sel.StashAlert {
		total += catalog.StashAlertPrice
		parts = append(parts, "stash alert")
	}

	if sel.ExtraSeats > 0 {
		total += float64(sel.ExtraSeats) * bundle.SeatPrice
		parts = append(parts, fmt.Sprintf("%d extra seats", sel.ExtraSeats))
	}

	if total < 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return Quote{}, errors.New("pricing produced an invalid amount")
	}

	return Quote{
		Description: strings.Join(parts, " + "),
		Amount:      total,
	}, nil
}

// BundlePrice prices the bundle category alone.
func (c *Calculator) BundlePrice(name string) (float64, error) {
	bundle, ok := c.holder.Get().Bundles[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBundle, name)
	}
	return bundle.Price, nil
}

// AddonPrice prices the veri addon category alone; nil means no addon.
func (c *Calculator) AddonPrice(name *string) (float64, error) {
	if name == nil {
		return 0, nil
	}
	addon, ok := c.holder.Get().VeriAddons[*name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAddon, *name)
	}
	return addon.Price, nil
}

// AlertPrice prices the stash alert category alone.
func (c *Calculator) AlertPrice(active bool) float64 {
	if !active {
		return 0
	}
	return c.holder.Get().StashAlertPrice
}

// SeatsPrice prices the extra seats category for the given bundle. Seats
// are always free on the starter tier.
func (c *Calculator) SeatsPrice(bundleName string, count int) (float64, error) {
	if count < 0 {
		return 0, ErrInvalidSeats
	}
	bundle, ok := c.holder.Get().Bundles[bundleName]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBundle, bundleName)
	}
	if bundleName == config.BundleStarter {
		return 0, nil
	}
	return float64(count) * bundle.SeatPrice, nil
}

// VeriQuota returns the veri allowance for a bundle plus the addon bonus.
func (c *Calculator) VeriQuota(bundleName string, addon *string) (float64, error) {
	catalog := c.holder.Get()
	bundle, ok := catalog.Bundles[bundleName]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBundle, bundleName)
	}
	quota := bundle.VeriBaseQuota
	if addon != nil {
		addonCfg, ok := catalog.VeriAddons[*addon]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownAddon, *addon)
		}
		quota += addonCfg.QuotaBonus
	}
	return quota, nil
}

// BundleFeatures exposes the feature flags of a bundle for tier snapshots.
func (c *Calculator) BundleFeatures(name string) (config.BundlePricing, error) {
	bundle, ok := c.holder.Get().Bundles[name]
	if !ok {
		return config.BundlePricing{}, fmt.Errorf("%w: %s", ErrUnknownBundle, name)
	}
	return bundle, nil
}

var Module = fx.Module("pricing",
	fx.Provide(NewCalculator),
)
