package s3backend

// Config describes how to reach an S3-compatible bucket. Endpoint is
// left blank for AWS itself; setting it targets a self-hosted,
// MinIO-style endpoint and switches to path-style addressing, following
// the teacher's custom-endpoint resolver pattern. ForcePathStyle turns
// on path-style addressing without a custom endpoint.
type Config struct {
	Bucket string
	Region string // default "us-east-1"

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	Endpoint       string
	ForcePathStyle bool
}
