// Package errors provides a structured error system for cloud-persistent-storage with error codes, categories, and context.
package errors

import (
	stderr "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for volume provisioning operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeInvalidTagPolicy ErrorCode = "INVALID_TAG_POLICY"

	// Environment Errors
	ErrCodeMetadataUnavailable ErrorCode = "METADATA_UNAVAILABLE"
	ErrCodeClientInit          ErrorCode = "CLIENT_INIT"

	// Discovery Errors
	ErrCodePaginationUnsupported ErrorCode = "PAGINATION_UNSUPPORTED"
	ErrCodeDiscoveryFailed       ErrorCode = "DISCOVERY_FAILED"

	// Attachment Errors
	ErrCodeAttachRejected     ErrorCode = "ATTACH_REJECTED"
	ErrCodeNoVolumesAvailable ErrorCode = "NO_VOLUMES_AVAILABLE"
	ErrCodeAllAttachesFailed  ErrorCode = "ALL_ATTACHES_FAILED"

	// Provisioning Errors
	ErrCodeProvisionFailed ErrorCode = "PROVISION_FAILED"
	ErrCodeTaggingFailed   ErrorCode = "TAGGING_FAILED"

	// Confirmation Errors
	ErrCodeConfirmTimeout ErrorCode = "CONFIRM_TIMEOUT"
	ErrCodeConfirmFailed  ErrorCode = "CONFIRM_FAILED"

	// Filesystem Errors
	ErrCodeDeviceRead  ErrorCode = "DEVICE_READ"
	ErrCodeMkfsFailed  ErrorCode = "MKFS_FAILED"
	ErrCodeMountFailed ErrorCode = "MOUNT_FAILED"

	// Operation Errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryEnvironment   ErrorCategory = "environment"
	CategoryDiscovery     ErrorCategory = "discovery"
	CategoryAttachment    ErrorCategory = "attachment"
	CategoryProvisioning  ErrorCategory = "provisioning"
	CategoryConfirmation  ErrorCategory = "confirmation"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// StorageError represents a structured error with context and metadata.
type StorageError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	var msg string
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		} else {
			msg = fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
		}
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *StorageError) Is(target error) bool {
	if storageErr, ok := target.(*StorageError); ok {
		return e.Code == storageErr.Code
	}
	return false
}

// VolumeID returns the volume id recorded in the error context, if any.
// A TAGGING_FAILED error always carries the id of the orphaned volume.
func (e *StorageError) VolumeID() string {
	return e.Context[ContextVolumeID]
}

// Context keys shared across components.
const (
	ContextVolumeID     = "volume_id"
	ContextInstanceID   = "instance_id"
	ContextDevice       = "device"
	ContextZone         = "availability_zone"
	ContextAWSErrorCode = "aws_error_code"
)

// NewError creates a new error with default values.
func NewError(code ErrorCode, message string) *StorageError {
	return &StorageError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *StorageError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error of the given code caused by err.
func Wrap(err error, code ErrorCode, message string) *StorageError {
	return NewError(code, message).WithCause(err)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeMissingConfig, ErrCodeConfigValidation, ErrCodeConfigLoad,
		ErrCodeInvalidTagPolicy:
		return CategoryConfiguration
	case ErrCodeMetadataUnavailable, ErrCodeClientInit:
		return CategoryEnvironment
	case ErrCodePaginationUnsupported, ErrCodeDiscoveryFailed:
		return CategoryDiscovery
	case ErrCodeAttachRejected, ErrCodeNoVolumesAvailable, ErrCodeAllAttachesFailed:
		return CategoryAttachment
	case ErrCodeProvisionFailed, ErrCodeTaggingFailed:
		return CategoryProvisioning
	case ErrCodeConfirmTimeout, ErrCodeConfirmFailed:
		return CategoryConfirmation
	case ErrCodeDeviceRead, ErrCodeMkfsFailed, ErrCodeMountFailed:
		return CategoryFilesystem
	case ErrCodeOperationCanceled:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// CodeOf returns the code of the outermost StorageError in err's chain.
func CodeOf(err error) ErrorCode {
	var storageErr *StorageError
	if stderr.As(err, &storageErr) {
		return storageErr.Code
	}
	return ErrCodeUnknownError
}

// HasCode reports whether any StorageError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	return stderr.Is(err, &StorageError{Code: code})
}

// As is a passthrough to the standard library so callers need a single errors import.
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is is a passthrough to the standard library.
func Is(err, target error) bool {
	return stderr.Is(err, target)
}

// WithContext adds contextual information to an error
func (e *StorageError) WithContext(key, value string) *StorageError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *StorageError) WithComponent(component string) *StorageError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *StorageError) WithOperation(operation string) *StorageError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *StorageError) WithCause(cause error) *StorageError {
	e.Cause = cause
	return e
}

// WithRetryable marks whether the failed operation may be retried.
func (e *StorageError) WithRetryable(retryable bool) *StorageError {
	e.Retryable = retryable
	return e
}

// GetRecommendation returns an operator-facing recommendation for fixing the error
func (e *StorageError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeConfigValidation: "Configuration validation failed. " +
			"Check size, type, ebs_tags, device and mount target.",
		ErrCodeMetadataUnavailable: "Unable to retrieve instance metadata. Am I running on EC2? " +
			"Pass --instance-id, --zone and --region explicitly when running elsewhere.",
		ErrCodePaginationUnsupported: "DescribeVolumes returned multiple pages of results. " +
			"Narrow ebs_tags so that fewer volumes match.",
		ErrCodeDiscoveryFailed: "DescribeVolumes failed. " +
			"Verify the instance role grants ec2:DescribeVolumes.",
		ErrCodeAllAttachesFailed: "No matching volume could be attached. " +
			"Check that volumes live in the instance's availability zone and the device is free.",
		ErrCodeNoVolumesAvailable: "No available volume matches ebs_tags and volume creation is disabled. " +
			"Set allow_create: true or create a tagged volume.",
		ErrCodeProvisionFailed: "CreateVolume failed. " +
			"Verify ec2:CreateVolume permission and the requested size and type.",
		ErrCodeTaggingFailed: "A volume was created but could not be tagged and will not be found by later runs. " +
			"Tag or delete the volume named in volume_id.",
		ErrCodeConfirmTimeout: "The attachment was requested but never reported as attached. " +
			"Inspect the volume in the EC2 console; consider raising attach_timeout.",
		ErrCodeMkfsFailed: "Filesystem creation failed. " +
			"Check file_system.mkfs arguments and that the device exists.",
		ErrCodeMountFailed: "Mount failed. " +
			"Check that the mount target exists and the filesystem type is supported.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details."
}

// DetailedDiagnostic returns a comprehensive diagnostic message
func (e *StorageError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.Message))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}

	if len(e.Context) > 0 {
		parts = append(parts, "\nContext:")
		for _, k := range sortedKeys(e.Context) {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, e.Context[k]))
		}
	}

	if len(e.Details) > 0 {
		parts = append(parts, "\nDetails:")
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, e.Details[k]))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
