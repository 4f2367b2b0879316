package domain

import (
	"github.com/stashworks/jobhub/internal/config"
	"github.com/stashworks/jobhub/internal/pricing"
	"gorm.io/datatypes"
)

// TierPayloads snapshots a selection into one payload per category. The
// bundle payload carries the feature flags as priced at purchase time, so
// later catalog edits never rewrite what an org already bought.
func TierPayloads(sel pricing.Selection, features config.BundlePricing) map[TierCategory]datatypes.JSONMap {
	addon := ""
	if sel.VeriAddon != nil {
		addon = *sel.VeriAddon
	}
	return map[TierCategory]datatypes.JSONMap{
		TierBundle: {
			"name":                       sel.Bundle,
			"pooling":                    features.Pooling,
			"ats_integration":            features.ATSIntegration,
			"boosted_vacancy_multiplier": features.BoostedVacancyMultiplier,
		},
		TierVeriAddon:  {"name": addon},
		TierStashAlert: {"active": sel.StashAlert},
		TierExtraSeats: {"count": sel.ExtraSeats},
	}
}

// SelectionFromRecords rebuilds the selection currently in force from one
// record per category. Missing categories fall back to zero values.
func SelectionFromRecords(records []TierRecord) pricing.Selection {
	var sel pricing.Selection
	for _, r := range records {
		switch r.Category {
		case TierBundle:
			sel.Bundle = r.BundleName()
		case TierVeriAddon:
			sel.VeriAddon = r.AddonName()
		case TierStashAlert:
			sel.StashAlert = r.AlertActive()
		case TierExtraSeats:
			sel.ExtraSeats = r.SeatCount()
		}
	}
	return sel
}

// SelectionToPayload serializes a selection for storage on a pending
// payment, so the confirming webhook can rebuild the requested
// configuration without trusting its own payload.
func SelectionToPayload(sel pricing.Selection) datatypes.JSONMap {
	addon := ""
	if sel.VeriAddon != nil {
		addon = *sel.VeriAddon
	}
	return datatypes.JSONMap{
		"bundle":      sel.Bundle,
		"veri_addon":  addon,
		"stash_alert": sel.StashAlert,
		"extra_seats": sel.ExtraSeats,
	}
}

// SelectionFromPayload is the inverse of SelectionToPayload.
func SelectionFromPayload(payload datatypes.JSONMap) pricing.Selection {
	sel := pricing.Selection{}
	if v, ok := payload["bundle"].(string); ok {
		sel.Bundle = v
	}
	if v, ok := payload["veri_addon"].(string); ok && v != "" {
		sel.VeriAddon = &v
	}
	if v, ok := payload["stash_alert"].(bool); ok {
		sel.StashAlert = v
	}
	switch v := payload["extra_seats"].(type) {
	case float64:
		sel.ExtraSeats = int(v)
	case int:
		sel.ExtraSeats = v
	case int64:
		sel.ExtraSeats = int(v)
	}
	return sel
}

// SameSelection reports whether two selections describe an identical
// configuration.
func SameSelection(a, b pricing.Selection) bool {
	if a.Bundle != b.Bundle || a.StashAlert != b.StashAlert || a.ExtraSeats != b.ExtraSeats {
		return false
	}
	switch {
	case a.VeriAddon == nil && b.VeriAddon == nil:
		return true
	case a.VeriAddon == nil || b.VeriAddon == nil:
		return false
	default:
		return *a.VeriAddon == *b.VeriAddon
	}
}
