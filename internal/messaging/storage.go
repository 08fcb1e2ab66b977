// internal/messaging/storage.go

package messaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
)

// AttachmentStorage stores out-of-band message media and hands back the
// URL carried in attachment_url.
type AttachmentStorage interface {
	Upload(ctx context.Context, file io.Reader, filename, contentType string) (string, error)
	UploadMultipartFile(ctx context.Context, file multipart.File, header *multipart.FileHeader) (string, error)
	Delete(ctx context.Context, attachmentURL string) error
}

type s3Storage struct {
	client       *s3.S3
	bucketName   string
	cdnURL       string
	maxFileSize  int64
	allowedTypes []string
}

// NewS3Storage creates an S3-backed attachment store.
func NewS3Storage(awsSession *session.Session, bucketName, cdnURL string, maxFileSize int64) AttachmentStorage {
	return &s3Storage{
		client:      s3.New(awsSession),
		bucketName:  bucketName,
		cdnURL:      cdnURL,
		maxFileSize: maxFileSize,
		allowedTypes: []string{
			"image/jpeg", "image/png", "image/gif", "image/webp",
			"video/mp4", "video/quicktime", "video/webm",
			"audio/mpeg", "audio/wav", "audio/ogg",
			"application/pdf", "application/zip",
		},
	}
}

func (s *s3Storage) Upload(ctx context.Context, file io.Reader, filename, contentType string) (string, error) {
	if !s.isAllowedType(contentType) {
		return "", fmt.Errorf("file type %s not allowed", contentType)
	}

	ext := filepath.Ext(filename)
	key := fmt.Sprintf("attachments/%s/%s%s",
		time.Now().Format("2006/01/02"),
		uuid.New().String(),
		ext,
	)

	buf := new(bytes.Buffer)
	size, err := io.Copy(buf, file)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if size > s.maxFileSize {
		return "", fmt.Errorf("file size %d exceeds maximum allowed size %d", size, s.maxFileSize)
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
		ACL:           aws.String("public-read"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return fmt.Sprintf("%s/%s", s.cdnURL, key), nil
}

func (s *s3Storage) UploadMultipartFile(ctx context.Context, file multipart.File, header *multipart.FileHeader) (string, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}
	contentType := http.DetectContentType(buffer[:n])

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	return s.Upload(ctx, file, header.Filename, contentType)
}

func (s *s3Storage) Delete(ctx context.Context, attachmentURL string) error {
	key := strings.TrimPrefix(attachmentURL, s.cdnURL+"/")

	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	return err
}

func (s *s3Storage) isAllowedType(contentType string) bool {
	for _, allowed := range s.allowedTypes {
		if allowed == contentType {
			return true
		}
	}
	return false
}
