// Package archive is the optional cold-archive tier: Tier.Archive copies a
// superseded block version to S3 and Tier.Fetch reads it back. The block
// store's PruneBelow does not call it, so pruned versions are deleted
// without a copy. It never sits on the hot commit path.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/blockstore"
)

// Config selects the archive bucket and region. Archival is disabled when
// Bucket is empty.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Region string `mapstructure:"region" yaml:"region"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

func (c Config) Enabled() bool { return c.Bucket != "" }

// Tier archives superseded block versions to S3 before they are pruned
// from disk.
type Tier struct {
	client *s3.Client
	bucket string
	prefix string
}

// New constructs a Tier from Config, loading AWS credentials the standard
// way (environment, shared config, or instance role).
func New(ctx context.Context, cfg Config) (*Tier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("blockstore/archive: load AWS config: %w", err)
	}
	return &Tier{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (t *Tier) objectKey(serverID uint32, inum, stripe, version uint64) string {
	return fmt.Sprintf("%sserverid_%d/%d/%d/%d", t.prefix, serverID, inum, stripe, version)
}

// Archive uploads the given superseded block version before it is deleted
// from disk by prune_below.
func (t *Tier) Archive(ctx context.Context, serverID uint32, inum, stripe, version uint64, b blockstore.Block) error {
	key := t.objectKey(serverID, inum, stripe, version)

	var buf bytes.Buffer
	buf.Write(b.Data)

	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		Metadata: map[string]string{
			"checksum": strconv.FormatUint(uint64(b.Checksum), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("blockstore/archive: put %s: %w", key, err)
	}

	logger.Debug("archived superseded block version", "key", key, "bytes", buf.Len())
	return nil
}

// Fetch retrieves a previously archived version, for operator-driven
// recovery inspection (not part of the normal read path).
func (t *Tier) Fetch(ctx context.Context, serverID uint32, inum, stripe, version uint64) ([]byte, error) {
	key := t.objectKey(serverID, inum, stripe, version)
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore/archive: get %s: %w", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("blockstore/archive: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}
