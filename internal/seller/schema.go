package seller

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation marks request bodies that failed schema validation.
var ErrValidation = errors.New("validation failed")

const executeSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["task_description"],
	"properties": {
		"task_description": {"type": "string", "minLength": 1},
		"context": {"type": "object"},
		"secrets": {"type": "object", "additionalProperties": {"type": "string"}}
	}
}`

var executeSchema = jsonschema.MustCompileString("execute.json", executeSchemaJSON)

// ValidateExecuteBody checks a decoded /execute body against the schema.
// The returned error wraps ErrValidation and carries the failing location.
func ValidateExecuteBody(body any) error {
	if err := executeSchema.Validate(body); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, validationDetail(err))
	}
	return nil
}

// validationDetail walks to the innermost cause so the 422 message names
// the offending field instead of the schema root.
func validationDetail(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return leaf.Message
	}
	return strings.ReplaceAll(loc, "/", ".") + ": " + leaf.Message
}
