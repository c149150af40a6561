package providers

import (
	"fmt"
	"strings"
)

// ValidationError represents a validation error for a fleet creation request
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%s: %s", e.Field, e.Value, e.Message)
}

// CreateRequestValidator validates creation requests against the values each
// provider is known to accept. Providers missing from a table are not checked.
type CreateRequestValidator struct {
	validRegions map[string][]string
	validSizes   map[string][]string
}

func NewCreateRequestValidator() *CreateRequestValidator {
	return &CreateRequestValidator{
		validRegions: map[string][]string{
			"hetzner": {"fsn1", "nbg1", "hel1", "ash", "hil", "sin"},
			"vultr":   {"ewr", "sea", "lax", "atl", "ams", "lon", "fra", "sgp", "nrt"},
		},
		validSizes: map[string][]string{
			"vultr": {"vc2-1c-1gb", "vc2-1c-2gb", "vc2-2c-2gb", "vc2-2c-4gb", "vc2-4c-8gb"},
		},
	}
}

// Validate checks a creation request for the named provider.
func (v *CreateRequestValidator) Validate(provider string, req CreateRequest) error {
	if strings.TrimSpace(req.Fleet) == "" {
		return ValidationError{Field: "name", Value: "", Message: "fleet name is required"}
	}

	if req.Count <= 0 || req.Count > 100 {
		return ValidationError{Field: "count", Value: fmt.Sprintf("%d", req.Count), Message: "count must be between 1 and 100"}
	}

	if req.Region != "" {
		if err := check(v.validRegions, provider, "region", req.Region); err != nil {
			return err
		}
	}
	if req.Size != "" {
		if err := check(v.validSizes, provider, "size", req.Size); err != nil {
			return err
		}
	}
	return nil
}

func check(table map[string][]string, provider, field, value string) error {
	valid, exists := table[provider]
	if !exists {
		return nil
	}
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("invalid %s for %s. Valid values: %v", field, provider, valid),
	}
}
