// Package archive uploads replays of completed matches to S3-compatible
// object storage (AWS S3 or Cloudflare R2).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/pkg/arena"
)

// Options configures the archive bucket.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string // empty for AWS; set for R2 or MinIO
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// ObjectPutter is the subset of the S3 client used by the archive.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Replay is the archived document for one match.
type Replay struct {
	MatchID    string             `json:"match_id"`
	Seats      [2]string          `json:"seats"`
	Names      map[string]string  `json:"names"`
	Winner     string             `json:"winner"`
	Reason     arena.Reason       `json:"reason"`
	Turns      int                `json:"turns"`
	Scores     []arena.Scoreboard `json:"scores"`
	Rules      arena.Rules        `json:"rules"`
	ActionLog  []arena.LogEntry   `json:"action_log"`
	Final      *arena.Match       `json:"final_state"`
	ArchivedAt time.Time          `json:"archived_at"`
}

// S3Archive writes match replays as JSON objects.
type S3Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// New builds an S3 client from opts. Static credentials are used when
// given, otherwise the default AWS credential chain applies.
func New(ctx context.Context, opts Options) (*S3Archive, error) {
	var loaders []func(*config.LoadOptions) error
	region := opts.Region
	if region == "" {
		region = "auto"
	}
	loaders = append(loaders, config.WithRegion(region))
	if opts.AccessKeyID != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load archive config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectPutter, bucket, prefix string) *S3Archive {
	if prefix == "" {
		prefix = "replays"
	}
	return &S3Archive{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// ArchiveMatch uploads the replay of a completed match.
func (a *S3Archive) ArchiveMatch(ctx context.Context, m *arena.Match, names map[string]string) error {
	if m.Status != arena.StatusComplete {
		return fmt.Errorf("match %s is not complete", m.ID)
	}
	now := a.now().UTC()
	replay := Replay{
		MatchID:    m.ID,
		Seats:      m.Seats,
		Names:      names,
		Winner:     m.Winner,
		Reason:     m.Reason,
		Turns:      m.TurnNumber,
		Scores:     m.Scores(),
		Rules:      m.Rules,
		ActionLog:  m.ActionLog,
		Final:      m,
		ArchivedAt: now,
	}
	body, err := json.Marshal(replay)
	if err != nil {
		return fmt.Errorf("marshal replay: %w", err)
	}

	key := a.Key(m, names, now)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload replay: %w", err)
	}
	log.Info().Str("matchId", m.ID).Str("key", key).Int("bytes", len(body)).Msg("Match replay archived")
	return nil
}

// Key returns the object key for a replay, e.g.
// replays/2026/10/19/deep-thought-vs-hal-9000-<id>.json.
func (a *S3Archive) Key(m *arena.Match, names map[string]string, at time.Time) string {
	label := func(pid string) string {
		if s := slug.Make(names[pid]); s != "" {
			return s
		}
		return slug.Make(pid)
	}
	return fmt.Sprintf("%s/%s/%s-vs-%s-%s.json",
		a.prefix, at.Format("2006/01/02"), label(m.Seats[0]), label(m.Seats[1]), m.ID)
}
