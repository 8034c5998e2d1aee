package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/xeipuuv/gojsonschema"
)

const (
	SchemaIngestedReview = "ingested-review"
	SchemaRatingEvent    = "rating-event"
)

//go:embed schemas/*.json
var embedded embed.FS

// SchemaValidator validates message payloads against the embedded JSON schemas.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaValidator compiles every embedded schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	sv := &SchemaValidator{
		schemas: make(map[string]*gojsonschema.Schema),
	}
	for _, name := range []string{SchemaIngestedReview, SchemaRatingEvent} {
		raw, err := embedded.ReadFile(path.Join("schemas", name+".json"))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to load schema %s: %w", name, err)
		}
		sv.schemas[name] = schema
	}
	return sv, nil
}

func (sv *SchemaValidator) ValidateIngestedReview(data interface{}) *ValidationResult {
	return sv.validate(SchemaIngestedReview, data)
}

func (sv *SchemaValidator) ValidateRatingEvent(data interface{}) *ValidationResult {
	return sv.validate(SchemaRatingEvent, data)
}

// validate performs the actual validation against a named schema
func (sv *SchemaValidator) validate(schemaName string, data interface{}) *ValidationResult {
	schema, exists := sv.schemas[schemaName]
	if !exists {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "schema",
				Message: fmt.Sprintf("Schema '%s' not found", schemaName),
				Code:    "SCHEMA_NOT_FOUND",
			}},
		}
	}

	var documentLoader gojsonschema.JSONLoader
	switch v := data.(type) {
	case string:
		documentLoader = gojsonschema.NewStringLoader(v)
	case []byte:
		documentLoader = gojsonschema.NewBytesLoader(v)
	default:
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return &ValidationResult{
				Valid: false,
				Errors: []ValidationError{{
					Field:   "data",
					Message: fmt.Sprintf("Failed to marshal data to JSON: %v", err),
					Code:    "JSON_MARSHAL_ERROR",
				}},
			}
		}
		documentLoader = gojsonschema.NewBytesLoader(jsonBytes)
	}

	result, err := schema.Validate(documentLoader)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "document",
				Message: fmt.Sprintf("Malformed document: %v", err),
				Code:    "MALFORMED_DOCUMENT",
			}},
		}
	}

	validationResult := &ValidationResult{
		Valid:  result.Valid(),
		Errors: make([]ValidationError, 0),
	}
	for _, err := range result.Errors() {
		validationResult.Errors = append(validationResult.Errors, ValidationError{
			Field:   err.Field(),
			Message: err.Description(),
			Code:    "VALIDATION_ERROR",
			Value:   err.Value(),
		})
	}

	return validationResult
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// Err folds the result into a single error, nil when valid.
func (vr *ValidationResult) Err() error {
	if vr.Valid {
		return nil
	}
	if len(vr.Errors) == 1 {
		return vr.Errors[0]
	}
	return fmt.Errorf("%d validation errors, first: %w", len(vr.Errors), vr.Errors[0])
}
