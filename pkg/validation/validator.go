package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes caps the size of a decoded request body
const MaxBodyBytes = 1 << 20

// FieldViolation describes one invalid field
type FieldViolation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Error carries every violation found in one request
type Error struct {
	Violations []FieldViolation
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Field == "" {
			parts = append(parts, v.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func single(field, rule, message string) *Error {
	return &Error{Violations: []FieldViolation{{Field: field, Rule: rule, Message: message}}}
}

// Validator wraps a configured go-playground validator
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator that reports fields by their json tag names
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v}
}

var std = New()

// DecodeBody decodes r's body into dst and validates it with the default Validator
func DecodeBody(r *http.Request, dst interface{}) error {
	return std.DecodeBody(r, dst)
}

// Struct validates s with the default Validator
func Struct(s interface{}) error {
	return std.Struct(s)
}

// ValidateQuery validates r's query string with the default Validator
func ValidateQuery(r *http.Request, schema QuerySchema) (Query, error) {
	return std.ValidateQuery(r, schema)
}

// DecodeBody strictly decodes a single JSON object into dst, then validates it.
// Every failure is returned as *Error.
func (v *Validator) DecodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return single("", "required", "request body is required")
	}

	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	// Type and unknown-field errors leave the rest of dst decoded, so the
	// struct rules still run and both sets of violations are reported.
	var decoded *Error
	if err := dec.Decode(dst); err != nil {
		var recoverable bool
		decoded, recoverable = decodeError(err)
		if !recoverable {
			return decoded
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return single("", "json", "request body must contain a single JSON object")
	}

	err := v.Struct(dst)
	if decoded == nil {
		return err
	}
	var structErr *Error
	if errors.As(err, &structErr) {
		for _, sv := range structErr.Violations {
			if !decoded.has(sv.Field) {
				decoded.Violations = append(decoded.Violations, sv)
			}
		}
	}
	return decoded
}

func (e *Error) has(field string) bool {
	for _, v := range e.Violations {
		if v.Field != "" && v.Field == field {
			return true
		}
	}
	return false
}

// Struct validates s against its validate tags
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return single("", "invalid", err.Error())
	}

	out := &Error{Violations: make([]FieldViolation, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Violations = append(out.Violations, FieldViolation{
			Field:   fieldPath(fe.Namespace()),
			Rule:    fe.Tag(),
			Message: message(fe.Tag(), fe.Param(), fe.Kind()),
		})
	}
	return out
}

// fieldPath drops the top-level struct name from a namespace like "Request.items[0].amount"
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// decodeError maps a decoder failure to a violation and reports whether
// dst was still fully decoded.
func decodeError(err error) (*Error, bool) {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
	)

	switch {
	case errors.Is(err, io.EOF):
		return single("", "required", "request body is required"), false
	case errors.As(err, &sizeErr):
		return single("", "max_size", fmt.Sprintf("request body must not exceed %d bytes", MaxBodyBytes)), false
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return single("", "json", "request body is not valid JSON"), false
	case errors.As(err, &typeErr):
		return single(typeErr.Field, "type", fmt.Sprintf("must be a %s", typeErr.Type.Kind())), true
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return single(field, "unknown", "is not a recognized field"), true
	default:
		return single("", "json", "request body could not be decoded"), false
	}
}

func message(tag, param string, kind reflect.Kind) string {
	sized := kind == reflect.String || kind == reflect.Slice || kind == reflect.Map || kind == reflect.Array

	switch tag {
	case "required", "required_if", "required_unless", "required_with", "required_without":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url", "http_url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(param), ", ")
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "numeric", "number":
		return "must be numeric"
	case "boolean":
		return "must be true or false"
	case "datetime":
		return "must be a date in the format " + param
	case "len":
		if sized {
			return fmt.Sprintf("must be exactly %s characters long", param)
		}
		return "must equal " + param
	case "min":
		if sized {
			return fmt.Sprintf("must contain at least %s items or characters", param)
		}
		return "must be at least " + param
	case "max":
		if sized {
			return fmt.Sprintf("must contain at most %s items or characters", param)
		}
		return "must be at most " + param
	case "gt":
		return "must be greater than " + param
	case "gte":
		return "must be greater than or equal to " + param
	case "lt":
		return "must be less than " + param
	case "lte":
		return "must be less than or equal to " + param
	default:
		return fmt.Sprintf("failed %s validation", tag)
	}
}

// QueryRule validates one query parameter. Tag uses validator syntax.
// Default is substituted before validation when the parameter is absent.
type QueryRule struct {
	Tag     string
	Default string
}

// QuerySchema maps parameter names to their rules
type QuerySchema map[string]QueryRule

// Query holds validated query values
type Query map[string]string

// String returns the value for key, or ""
func (q Query) String(key string) string {
	return q[key]
}

// Has reports whether key has a non-empty value
func (q Query) Has(key string) bool {
	return q[key] != ""
}

// Int returns the value for key as an int, or 0 when absent or not an integer
func (q Query) Int(key string) int {
	n, err := strconv.Atoi(q[key])
	if err != nil {
		return 0
	}
	return n
}

// Bool returns the value for key as a bool, or false when absent or not a boolean
func (q Query) Bool(key string) bool {
	b, err := strconv.ParseBool(q[key])
	if err != nil {
		return false
	}
	return b
}

// ValidateQuery checks every parameter in schema and rejects parameters the schema does not name
func (v *Validator) ValidateQuery(r *http.Request, schema QuerySchema) (Query, error) {
	values := r.URL.Query()
	out := make(Query, len(schema))
	var violations []FieldViolation

	unknown := make([]string, 0)
	for key := range values {
		if _, ok := schema[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		violations = append(violations, FieldViolation{Field: key, Rule: "unknown", Message: "is not a recognized parameter"})
	}

	keys := make([]string, 0, len(schema))
	for key := range schema {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rule := schema[key]
		if len(values[key]) > 1 {
			violations = append(violations, FieldViolation{Field: key, Rule: "single", Message: "must be given at most once"})
			continue
		}

		value := values.Get(key)
		if value == "" {
			value = rule.Default
		}

		if rule.Tag != "" {
			if err := v.validate.Var(queryValue(value, rule.Tag), rule.Tag); err != nil {
				var fieldErrs validator.ValidationErrors
				if !errors.As(err, &fieldErrs) {
					return nil, fmt.Errorf("query rule for %q: %w", key, err)
				}
				for _, fe := range fieldErrs {
					violations = append(violations, FieldViolation{
						Field:   key,
						Rule:    fe.Tag(),
						Message: message(fe.Tag(), fe.Param(), queryKind(rule.Tag)),
					})
				}
				continue
			}
		}
		out[key] = value
	}

	if len(violations) > 0 {
		return nil, &Error{Violations: violations}
	}
	return out, nil
}

// queryValue converts numeric parameters so min and max compare values, not lengths
func queryValue(value, tag string) interface{} {
	if queryKind(tag) != reflect.Int {
		return value
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	return value
}

// queryKind reports whether a query value is checked as a number, so min/max read naturally
func queryKind(tag string) reflect.Kind {
	for _, part := range strings.Split(tag, ",") {
		if part == "numeric" || part == "number" {
			return reflect.Int
		}
	}
	return reflect.String
}
