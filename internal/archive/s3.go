package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultS3Key is the object key used when S3Options.Key is empty.
const DefaultS3Key = "relay/assignments.jsonl"

// S3Options locates the assignment archive object.
type S3Options struct {
	Bucket string
	Key    string
	Region string
	// Endpoint overrides the AWS endpoint and switches to path-style
	// addressing (MinIO and similar).
	Endpoint string
}

// S3Destination keeps the latest assignment history export as one object.
// Every export replaces it; enable bucket versioning to retain older
// snapshots.
type S3Destination struct {
	client *s3.Client
	opts   S3Options
}

// NewS3Destination loads AWS credentials from the environment and returns
// a destination for opts.
func NewS3Destination(ctx context.Context, opts S3Options) (*S3Destination, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return newS3Destination(cfg, opts), nil
}

func newS3Destination(cfg aws.Config, opts S3Options) *S3Destination {
	if opts.Key == "" {
		opts.Key = DefaultS3Key
	}
	endpoint := opts.Endpoint
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{client: client, opts: opts}
}

func (d *S3Destination) Name() string { return "s3://" + d.opts.Bucket + "/" + d.opts.Key }

// Write uploads one assignment export. The assignment count from the
// export header is copied into the object metadata so it can be read
// without downloading the history.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(d.opts.Bucket),
		Key:         aws.String(d.opts.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	}
	if n, ok := exportedCount(data); ok {
		in.Metadata = map[string]string{"assignment-count": strconv.Itoa(n)}
	}
	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("upload assignment archive to %s: %w", d.Name(), err)
	}
	return nil
}

// exportedCount reads assignment_count from the header line of an export.
func exportedCount(data []byte) (int, bool) {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	var h header
	if err := json.Unmarshal(line, &h); err != nil || h.Type != "header" {
		return 0, false
	}
	return h.AssignmentCount, true
}
