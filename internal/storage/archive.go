// Package storage archives retrieved PDF attachments to S3-compatible object
// storage and issues presigned download URLs. Archiving is optional: the
// service runs without it when no bucket is configured.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mailscan/internal/config"
)

// ArchivedAttachment describes one archived PDF.
type ArchivedAttachment struct {
	StorageKey string    `json:"storage_key"`
	URL        string    `json:"url"`
	SizeBytes  int64     `json:"size_bytes"`
	Checksum   string    `json:"checksum"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ArchiveService stores attachment payloads in S3/MinIO.
type ArchiveService struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	presignExpiry time.Duration
}

// NewArchiveService creates an ArchiveService from configuration.
func NewArchiveService(cfg config.StorageConfig) (*ArchiveService, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is not configured")
	}

	options := s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			protocol := "http"
			if cfg.UseSSL {
				protocol = "https"
			}
			endpoint = protocol + "://" + endpoint
		}
		options.BaseEndpoint = aws.String(endpoint)
		// Path-style addressing for MinIO compatibility.
		options.UsePathStyle = true
	}

	client := s3.New(options)
	presignExpiry := cfg.PresignedURLExpiry
	if presignExpiry == 0 {
		presignExpiry = 15 * time.Minute
	}

	return &ArchiveService{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		presignExpiry: presignExpiry,
	}, nil
}

// Archive uploads one PDF payload and returns its key and a presigned URL.
// The key embeds the account, UID, and part path so repeated archives of the
// same attachment overwrite rather than accumulate.
func (s *ArchiveService) Archive(ctx context.Context, account string, uid uint32, partPath, filename string, data []byte) (*ArchivedAttachment, error) {
	key := buildKey(account, uid, partPath, filename)

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", key, err)
	}

	presigned, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return nil, fmt.Errorf("presigning %s: %w", key, err)
	}

	return &ArchivedAttachment{
		StorageKey: key,
		URL:        presigned.URL,
		SizeBytes:  int64(len(data)),
		Checksum:   checksum,
		ExpiresAt:  time.Now().Add(s.presignExpiry).UTC(),
	}, nil
}

// buildKey sanitizes the filename and composes a deterministic object key.
func buildKey(account string, uid uint32, partPath, filename string) string {
	if account == "" {
		account = "default"
	}
	filename = path.Base(filename)
	filename = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, filename)
	if filename == "" || filename == "." {
		filename = "document.pdf"
	}
	return fmt.Sprintf("attachments/%s/%d/%s/%s", account, uid, partPath, filename)
}
