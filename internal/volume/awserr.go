package volume

import (
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// Error codes meaning the volume id itself is bad; polling again cannot help.
var unrecoverableCodes = map[string]struct{}{
	"InvalidVolume.NotFound":    {},
	"InvalidVolumeID.Malformed": {},
	"InvalidParameterValue":     {},
}

var throttleCodes = awsretry.ThrottleErrorCode{Codes: awsretry.DefaultThrottleErrorCodes}

// apiErrorCode returns the remote error code carried by err, or "".
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isThrottle(err error) bool {
	return throttleCodes.IsErrorThrottle(err) == aws.TrueTernary
}

func isConnectionError(err error) bool {
	return awsretry.RetryableConnectionError{}.IsErrorRetryable(err) == aws.TrueTernary
}

func isUnrecoverable(err error) bool {
	_, ok := unrecoverableCodes[apiErrorCode(err)]
	return ok
}

// remoteError wraps a failed EC2 call under code, recording the remote error code
// and marking throttling and transport faults retryable.
func remoteError(err error, code errors.ErrorCode, message string) *errors.StorageError {
	wrapped := errors.Wrap(err, code, message).WithComponent("volume")
	if awsCode := apiErrorCode(err); awsCode != "" {
		wrapped.WithContext(errors.ContextAWSErrorCode, awsCode)
	}
	if isThrottle(err) || isConnectionError(err) {
		wrapped.WithRetryable(true)
	}
	return wrapped
}
