// internal/api/schema.go
package api

import (
	"fmt"
	"strings"

	"notification-engine/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// enqueueSchema validates the enqueue request body before it becomes a job.
// Channel and type enums are kept in step with the models package.
const enqueueSchema = `{
	"type": "object",
	"required": ["tenantId", "channel", "notificationType", "templateName", "recipientAddress", "correlationId"],
	"additionalProperties": false,
	"properties": {
		"tenantId":         {"type": "string", "minLength": 1},
		"channel":          {"type": "string", "enum": ["chat", "sms", "email"]},
		"notificationType": {"type": "string", "enum": ["confirmation", "reminder", "cancellation", "reschedule", "custom"]},
		"templateName":     {"type": "string", "minLength": 1},
		"recipientAddress": {"type": "string", "minLength": 1},
		"correlationId":    {"type": "string", "minLength": 1},
		"variables":        {"type": "object", "additionalProperties": {"type": "string"}},
		"scheduledFor":     {"type": "string", "format": "date-time"},
		"maxAttempts":      {"type": "integer", "minimum": 1, "maximum": 20}
	}
}`

var enqueueSchemaLoader = gojsonschema.NewStringLoader(enqueueSchema)

// validateEnqueueBody checks the raw request body against the enqueue schema
// and folds all violations into one validation error.
func validateEnqueueBody(body []byte) error {
	result, err := gojsonschema.Validate(enqueueSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid JSON: %v", err))
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return errors.NewValidationError(strings.Join(details, "; "))
}
