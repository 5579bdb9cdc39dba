package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a RepositoriesConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *RepositoriesConfig) []ValidationError {
	var errs []ValidationError

	if cfg.Worker.ThrottleSeconds < 0 {
		errs = append(errs, ValidationError{Field: "worker.throttle_seconds", Message: "must not be negative"})
	}
	if cfg.Worker.GraceSeconds < 0 {
		errs = append(errs, ValidationError{Field: "worker.grace_seconds", Message: "must not be negative"})
	}

	if len(cfg.Repositories) == 0 {
		errs = append(errs, ValidationError{Field: "repositories", Message: "at least one repository is required"})
	}

	shortNames := make(map[string]bool)
	for i, r := range cfg.Repositories {
		prefix := fmt.Sprintf("repositories[%d]", i)

		if r.ShortName == "" {
			errs = append(errs, ValidationError{Field: prefix + ".short_name", Message: "is required"})
		} else if shortNames[r.ShortName] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".short_name",
				Message: fmt.Sprintf("duplicate repository short_name %q", r.ShortName),
			})
		} else {
			shortNames[r.ShortName] = true
		}

		if r.URL == "" {
			errs = append(errs, ValidationError{Field: prefix + ".url", Message: "is required"})
		}

		if r.ApprovalRequired && r.PhabIdentifier == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".phab_identifier",
				Message: "required when approval_required is set",
			})
		}
	}

	return errs
}
