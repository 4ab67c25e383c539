package entitlements

import (
	"errors"
	"fmt"

	"github.com/ManuelReschke/StoreFox/app/models"
)

type Feature string

const (
	FeatureCustomDomain     Feature = "custom_domain"
	FeatureGmbSync          Feature = "gmb_sync"
	FeatureGmbAutoUpdate    Feature = "gmb_auto_update"
	FeatureUnifiedDashboard Feature = "unified_dashboard"
	FeatureAIRewrites       Feature = "ai_rewrites"
	FeatureAdditionalStore  Feature = "additional_store"
)

// ErrUnknownFeature is returned by Check for feature names it does not know.
var ErrUnknownFeature = errors.New("unknown feature")

// FeatureAccess is the answer to a single feature query.
type FeatureAccess struct {
	Allowed  bool            `json:"allowed"`
	Reason   string          `json:"reason,omitempty"`
	PlanType models.PlanType `json:"planType"`
	PlanName string          `json:"planName"`
}

// ParseFeature validates a feature name coming from a request.
func ParseFeature(raw string) (Feature, error) {
	f := Feature(raw)
	switch f {
	case FeatureCustomDomain, FeatureGmbSync, FeatureGmbAutoUpdate, FeatureUnifiedDashboard,
		FeatureAIRewrites, FeatureAdditionalStore:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFeature, raw)
}

// Check evaluates one feature. storeCount is only consulted for
// FeatureAdditionalStore.
func (e Entitlements) Check(feature Feature, storeCount int64) (FeatureAccess, error) {
	access := FeatureAccess{PlanType: e.PlanType, PlanName: e.PlanName}

	switch feature {
	case FeatureCustomDomain:
		access.Allowed = e.CanUseCustomDomain
	case FeatureGmbSync:
		access.Allowed = e.CanUseGmbSync
	case FeatureGmbAutoUpdate:
		access.Allowed = e.CanUseGmbAutoUpdate
	case FeatureUnifiedDashboard:
		access.Allowed = e.CanUseUnifiedDashboard
	case FeatureAIRewrites:
		if remaining, limited := e.AIRewritesRemaining(); limited && remaining == 0 {
			if e.AIRewritesPerMonth != nil && *e.AIRewritesPerMonth == 0 {
				access.Reason = fmt.Sprintf("AI rewrites are not included in the %s plan", e.PlanName)
			} else {
				access.Reason = fmt.Sprintf("monthly AI rewrite limit of %d reached", *e.AIRewritesPerMonth)
			}
			return access, nil
		}
		access.Allowed = true
		return access, nil
	case FeatureAdditionalStore:
		if e.CanAddStore(storeCount) {
			access.Allowed = true
			return access, nil
		}
		access.Reason = fmt.Sprintf("store limit of %d reached for the %s plan", e.MaxStores, e.PlanName)
		return access, nil
	default:
		return FeatureAccess{}, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}

	if !access.Allowed {
		access.Reason = fmt.Sprintf("%s is not included in the %s plan", feature, e.PlanName)
	}
	return access, nil
}
