// Package validation checks request bodies and query strings against declared shapes.
//
// # Overview
//
// Bodies are decoded strictly into a Go struct and then checked with struct tags.
// Query strings are checked against a QuerySchema. Either way, every problem found is
// reported as a FieldViolation keyed by the JSON or query parameter name, so clients can
// fix all fields in one round trip.
//
// # Usage Example
//
// Validate a body:
//
//	type SendInvoiceRequest struct {
//		Recipient string `json:"recipient" validate:"required,email"`
//		Message   string `json:"message" validate:"max=2000"`
//	}
//
//	var req SendInvoiceRequest
//	if err := validation.DecodeBody(r, &req); err != nil {
//		var verr *validation.Error
//		if errors.As(err, &verr) {
//			// verr.Violations -> 400
//		}
//	}
//
// Validate a query string:
//
//	schema := validation.QuerySchema{
//		"status": {Tag: "omitempty,oneof=draft sent paid"},
//		"limit":  {Tag: "numeric,min=1,max=100", Default: "20"},
//	}
//	q, err := validation.ValidateQuery(r, schema)
//	limit := q.Int("limit")
//
// # Rules
//
// Unknown JSON fields and unknown query parameters are rejected. Bodies larger than
// MaxBodyBytes are rejected before decoding finishes.
package validation
