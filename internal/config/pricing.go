package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BundleTier names form the pricing ladder. "starter" is the free tier and
// is never billable.
const (
	BundleStarter = "starter"
	BundleGrowth  = "growth"
	BundlePro     = "pro"
	BundleMax     = "max"
)

type BundlePricing struct {
	Price                    float64 `mapstructure:"price"`
	SeatPrice                float64 `mapstructure:"seatPrice"`
	VeriBaseQuota            float64 `mapstructure:"veriBaseQuota"`
	Pooling                  bool    `mapstructure:"pooling"`
	ATSIntegration           bool    `mapstructure:"atsIntegration"`
	BoostedVacancyMultiplier int     `mapstructure:"boostedVacancyMultiplier"`
}

type VeriAddonPricing struct {
	Price      float64 `mapstructure:"price"`
	QuotaBonus float64 `mapstructure:"quotaBonus"`
}

// PricingCatalog is external configuration: tier names and amounts are
// business values owned by ops, not by code.
type PricingCatalog struct {
	Bundles         map[string]BundlePricing    `mapstructure:"bundles"`
	VeriAddons      map[string]VeriAddonPricing `mapstructure:"veriAddons"`
	StashAlertPrice float64                     `mapstructure:"stashAlertPrice"`
}

func DefaultPricingCatalog() PricingCatalog {
	return PricingCatalog{
		Bundles: map[string]BundlePricing{
			BundleStarter: {Price: 0, SeatPrice: 0, VeriBaseQuota: 10, BoostedVacancyMultiplier: 1},
			BundleGrowth:  {Price: 199, SeatPrice: 29, VeriBaseQuota: 100, Pooling: true, BoostedVacancyMultiplier: 2},
			BundlePro:     {Price: 499, SeatPrice: 25, VeriBaseQuota: 500, Pooling: true, ATSIntegration: true, BoostedVacancyMultiplier: 3},
			BundleMax:     {Price: 999, SeatPrice: 20, VeriBaseQuota: 2000, Pooling: true, ATSIntegration: true, BoostedVacancyMultiplier: 5},
		},
		VeriAddons: map[string]VeriAddonPricing{
			"lite":     {Price: 49, QuotaBonus: 50},
			"plus":     {Price: 99, QuotaBonus: 150},
			"elite":    {Price: 199, QuotaBonus: 400},
			"ultimate": {Price: 399, QuotaBonus: 1000},
		},
		StashAlertPrice: 29,
	}
}

// PricingHolder exposes the current catalog and hot-reloads it when the
// mounted config file changes. Invalid reloads are ignored.
type PricingHolder struct {
	current atomic.Value // holds PricingCatalog
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/jobhub/config")
	v.AddConfigPath("/etc/jobhub")
	v.AddConfigPath(".")

	v.SetEnvPrefix("JOBHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPricingCatalog()
		v.SetDefault("pricing.bundles", defaults.Bundles)
		v.SetDefault("pricing.veriAddons", defaults.VeriAddons)
		v.SetDefault("pricing.stashAlertPrice", defaults.StashAlertPrice)
	}

	var catalog PricingCatalog
	if err := v.UnmarshalKey("pricing", &catalog); err != nil {
		return nil, err
	}
	if err := validatePricingCatalog(catalog); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingCatalog
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingCatalog(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPricingHolder wraps a fixed catalog, used in tests.
func NewStaticPricingHolder(catalog PricingCatalog) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(catalog)
	return holder
}

func (h *PricingHolder) Get() PricingCatalog {
	return h.current.Load().(PricingCatalog)
}

func validatePricingCatalog(catalog PricingCatalog) error {
	if len(catalog.Bundles) == 0 {
		return errors.New("pricing.bundles cannot be empty")
	}
	starter, ok := catalog.Bundles[BundleStarter]
	if !ok {
		return errors.New("pricing.bundles must define the starter tier")
	}
	if starter.Price != 0 {
		return errors.New("pricing: starter tier must be free")
	}
	for name, bundle := range catalog.Bundles {
		if bundle.Price < 0 || bundle.SeatPrice < 0 || bundle.VeriBaseQuota < 0 {
			return errors.New("pricing: negative amount for bundle " + name)
		}
	}
	for name, addon := range catalog.VeriAddons {
		if addon.Price < 0 || addon.QuotaBonus < 0 {
			return errors.New("pricing: negative amount for veri addon " + name)
		}
	}
	if catalog.StashAlertPrice < 0 {
		return errors.New("pricing: stashAlertPrice cannot be negative")
	}
	return nil
}
