package enums

import "fmt"

// GrantAction categorizes the user action a grant rewards. Promotions are
// scoped to a single action category.
type GrantAction string

const (
	GrantActionDaily      GrantAction = "daily"
	GrantActionReferral   GrantAction = "referral"
	GrantActionPurchase   GrantAction = "purchase"
	GrantActionAdjustment GrantAction = "adjustment"
)

var validGrantActions = []GrantAction{
	GrantActionDaily,
	GrantActionReferral,
	GrantActionPurchase,
	GrantActionAdjustment,
}

// IsValid reports whether the value matches a known grant action.
func (a GrantAction) IsValid() bool {
	for _, candidate := range validGrantActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseGrantAction converts raw input into GrantAction.
func ParseGrantAction(value string) (GrantAction, error) {
	for _, candidate := range validGrantActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid grant action %q", value)
}
