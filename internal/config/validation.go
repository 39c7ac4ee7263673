package config

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// AddErr appends err when it is a ValidationError and ignores nil.
func (ve *ValidationErrors) AddErr(err error) {
	if err == nil {
		return
	}
	if v, ok := err.(ValidationError); ok {
		*ve = append(*ve, v)
		return
	}
	*ve = append(*ve, ValidationError{Message: err.Error()})
}

// OrNil returns nil when there are no errors, so callers can return it as an error directly.
func (ve ValidationErrors) OrNil() error {
	if len(ve) == 0 {
		return nil
	}
	return ve
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value, entityType string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is required for %s", entityType),
		}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidatePositive checks that a numeric setting is greater than zero.
func ValidatePositive(field string, value int64) error {
	if value <= 0 {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "must be greater than zero",
		}
	}
	return nil
}

// ValidateQuantity checks that value parses as a Kubernetes resource quantity.
// Empty values are allowed.
func ValidateQuantity(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := resource.ParseQuantity(value); err != nil {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is not a valid quantity: %v", err),
		}
	}
	return nil
}

// Validate checks the configuration for values that would produce broken jobs.
func (c *ControllerConfig) Validate() error {
	var errs ValidationErrors

	errs.AddErr(ValidateRequired("agent.image.repository", c.Agent.Image.Repository, "controller config"))
	errs.AddErr(ValidateRequired("agent.image.tag", c.Agent.Image.Tag, "controller config"))
	errs.AddErr(ValidateRequired("prep.image", c.Prep.Image, "controller config"))
	errs.AddErr(ValidateRequired("toolProxy.url", c.ToolProxy.URL, "controller config"))
	errs.AddErr(ValidateRequired("secrets.apiKeySecretName", c.Secrets.APIKeySecretName, "controller config"))
	errs.AddErr(ValidateRequired("secrets.tokenSecretKey", c.Secrets.TokenSecretKey, "controller config"))

	errs.AddErr(ValidatePositive("job.activeDeadlineSeconds", c.Job.ActiveDeadlineSeconds))
	errs.AddErr(ValidatePositive("prep.activeDeadlineSeconds", c.Prep.ActiveDeadlineSeconds))
	if c.Job.BackoffLimit < 0 {
		errs.Add("job.backoffLimit", "must not be negative", c.Job.BackoffLimit)
	}
	if c.Prep.BackoffLimit < 0 {
		errs.Add("prep.backoffLimit", "must not be negative", c.Prep.BackoffLimit)
	}

	errs.AddErr(ValidateQuantity("workspace.size", c.Workspace.Size))
	errs.AddErr(ValidateRequired("workspace.size", c.Workspace.Size, "controller config"))
	errs.AddErr(ValidateOneOf("workspace.accessMode", c.Workspace.AccessMode,
		[]string{"ReadWriteOnce", "ReadWriteMany", "ReadWriteOncePod"}))

	for prefix, res := range map[string]ResourcesConfig{"prep.resources": c.Prep.Resources, "agent.resources": c.Agent.Resources} {
		errs.AddErr(ValidateQuantity(prefix+".requests.cpu", res.Requests.CPU))
		errs.AddErr(ValidateQuantity(prefix+".requests.memory", res.Requests.Memory))
		errs.AddErr(ValidateQuantity(prefix+".limits.cpu", res.Limits.CPU))
		errs.AddErr(ValidateQuantity(prefix+".limits.memory", res.Limits.Memory))
	}

	protocols := []string{"grpc", "http"}
	errs.AddErr(ValidateOneOf("telemetry.otlpProtocol", c.Telemetry.OTLPProtocol, protocols))
	errs.AddErr(ValidateOneOf("telemetry.logsProtocol", c.Telemetry.LogsProtocol, protocols))

	r := c.Reconciler
	errs.AddErr(ValidatePositive("reconciler.workers", int64(r.Workers)))
	errs.AddErr(ValidatePositive("reconciler.maxRetries", int64(r.MaxRetries)))
	errs.AddErr(ValidatePositive("reconciler.initialBackoff", int64(r.InitialBackoff)))
	errs.AddErr(ValidatePositive("reconciler.reconcileTimeout", int64(r.ReconcileTimeout)))
	errs.AddErr(ValidatePositive("reconciler.jobPollInterval", int64(r.JobPollInterval)))
	if r.MaxBackoff < r.InitialBackoff {
		errs.Add("reconciler.maxBackoff", "must not be smaller than initialBackoff", r.MaxBackoff)
	}

	return errs.OrNil()
}
