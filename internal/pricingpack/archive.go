package pricingpack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// archiveManifest is the metadata object stored alongside each archived
// pack: the sources manifest plus the content hash, so a restored pack can
// be verified without re-reading the pricing database.
type archiveManifest struct {
	PackID    string    `json:"pack_id"`
	AsOfDate  string    `json:"as_of_date"`
	Policy    string    `json:"policy"`
	Hash      string    `json:"hash"`
	Sources   string    `json:"sources_json"`
	CreatedAt time.Time `json:"created_at"`
}

// Archiver uploads a built pack's manifest to an S3-compatible bucket for
// long-term retention, independent of the pricing database's own lifecycle.
type Archiver struct {
	bucket string
	client *s3.Client
	log    zerolog.Logger
}

// NewArchiver builds an Archiver from the standard AWS config chain
// (environment, shared config, IAM role). Returns nil, nil when bucket is
// empty so callers can treat archival as optional without a nil check on
// every call site.
func NewArchiver(ctx context.Context, bucket, region string, log zerolog.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return &Archiver{
		bucket: bucket,
		client: s3.NewFromConfig(cfg),
		log:    log.With().Str("component", "pack_archiver").Logger(),
	}, nil
}

// Archive uploads the pack's manifest as a single JSON object, keyed so
// that listing the bucket by prefix recovers the pack lineage for a date.
func (a *Archiver) Archive(ctx context.Context, pack archiveManifest) error {
	body, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pack manifest: %w", err)
	}

	key := fmt.Sprintf("packs/%s/%s-%s.json", pack.AsOfDate, pack.Policy, pack.PackID)

	uploader := manager.NewUploader(a.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload pack manifest %s: %w", key, err)
	}

	a.log.Info().Str("pack_id", pack.PackID).Str("key", key).Msg("archived pricing pack manifest")
	return nil
}
