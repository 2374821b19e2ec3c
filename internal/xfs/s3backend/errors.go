package s3backend

import (
	"github.com/aws/aws-sdk-go/aws/awserr"

	"github.com/maponyatp/macscp/internal/xfs"
)

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return xfs.New(xfs.KindProtocol, "s3 operation failed", err)
	}
	switch awsErr.Code() {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return xfs.New(xfs.KindNotFound, "s3 object not found", err)
	case "AccessDenied":
		return xfs.New(xfs.KindPermission, "s3 access denied", err)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return xfs.New(xfs.KindAuthFailed, "s3 authentication failed", err)
	case "RequestTimeout", "RequestTimeTooSkewed":
		return xfs.New(xfs.KindNetworkDropped, "s3 request timed out", err)
	default:
		return xfs.New(xfs.KindProtocol, "s3 operation failed: "+awsErr.Code(), err)
	}
}
