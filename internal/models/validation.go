package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// NewRuleInput is the payload accepted when a user creates a crossover rule
type NewRuleInput struct {
	UserID         string         `json:"user_id" validate:"required"`
	AssetID        string         `json:"asset_id" validate:"required"`
	AssetSymbol    string         `json:"asset_symbol" validate:"required"`
	RuleType       RuleType       `json:"rule_type" validate:"required,oneof=MA_CROSSOVER PRICE_MA_CROSSOVER"`
	MAPeriods      []int          `json:"ma_periods" validate:"required,min=1,max=4,dive,min=1,max=365"`
	CrossDirection CrossDirection `json:"cross_direction" validate:"required,oneof=ABOVE BELOW BOTH"`
	InAppEnabled   bool           `json:"in_app_enabled"`
	EmailEnabled   bool           `json:"email_enabled"`
}

// ValidationError reports every invalid field of a rule input
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid rule: " + strings.Join(e.Problems, "; ")
}

// Validate checks the input against the rule constraints
func (in *NewRuleInput) Validate() error {
	problems, err := structProblems(in)
	if err != nil {
		return err
	}

	if in.RuleType == RuleTypeMACrossover && countDistinct(in.MAPeriods) < 2 {
		problems = append(problems, "MA crossover requires at least 2 distinct MA periods")
	}
	if !in.InAppEnabled && !in.EmailEnabled {
		problems = append(problems, "at least one notification channel must be enabled")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ToRule builds an active rule from validated input
func (in *NewRuleInput) ToRule() *CrossoverRule {
	return &CrossoverRule{
		UserID:             in.UserID,
		AssetID:            in.AssetID,
		AssetSymbol:        strings.ToUpper(in.AssetSymbol),
		RuleType:           in.RuleType,
		MAPeriods:          append([]int(nil), in.MAPeriods...),
		CrossDirection:     in.CrossDirection,
		InAppEnabled:       in.InAppEnabled,
		EmailEnabled:       in.EmailEnabled,
		IsActive:           true,
		LastCrossoverState: StateUnknown,
	}
}

// structProblems runs the struct tags of v and describes each failing field
func structProblems(v any) ([]string, error) {
	err := validate.Struct(v)
	if err == nil {
		return nil, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, fmt.Errorf("failed to validate rule: %w", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describeFieldError(fe))
	}
	return problems, nil
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min", "max":
		if field == "MAPeriods" {
			return fmt.Sprintf("between 1 and %d MA periods are allowed per rule", MaxMAPeriodsPerRule)
		}
		return fmt.Sprintf("MA periods must be integers between %d and %d", MinMAPeriod, MaxMAPeriod)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func countDistinct(xs []int) int {
	seen := make(map[int]struct{}, len(xs))
	for _, x := range xs {
		seen[x] = struct{}{}
	}
	return len(seen)
}

// Validate checks the user-editable fields of an update. Detector-owned
// fields are rejected.
func (u RuleUpdate) Validate() error {
	problems, err := structProblems(u)
	if err != nil {
		return err
	}
	if u.LastTriggeredAt != nil || u.LastCrossoverState != nil {
		problems = append(problems, "crossover state cannot be set directly")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
