// Package validator provides small composable validation rules.
//
// Each rule constructor evaluates its check on the spot. Apply
// runs a set of rules and returns ValidationErrors listing every failure:
//
//	err := validator.Apply(
//		validator.Required("email", req.Email),
//		validator.ValidEmail("email", req.Email),
//		validator.MaxLen("email", req.Email, 254),
//	)
//	if validator.IsValidationError(err) {
//		// 400
//	}
package validator
