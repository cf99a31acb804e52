package domain

import "github.com/go-playground/validator/v10"

// validate is a single, reusable validator instance — the package's own
// recommendation, since building one per call is measurably more expensive
// than the struct-tag cache it keeps internally.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks report against its `validate` struct tags (required
// fields, gte=0 claimed counters, oneof enums), returning the library's
// validator.ValidationErrors on failure.
func (r *AffiliateReport) Validate() error {
	return validate.Struct(r)
}

// Validate checks flag against its `validate` struct tags.
func (f *SuspicionFlag) Validate() error {
	return validate.Struct(f)
}
