package file

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
)

const documentFolder = "verification-documents"

var ErrNotConfigured = errors.New("file storage is not configured")

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, content io.Reader) (string, error)
}

type FileUploader struct {
	cloud_name string
	api_key    string
	api_secret string
	logger     *slog.Logger
}

func New(cloud_name, api_key, api_secret string, logger *slog.Logger) *FileUploader {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileUploader{
		cloud_name: cloud_name,
		api_key:    api_key,
		api_secret: api_secret,
		logger:     logger,
	}
}

var unsafePublicIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// publicID keeps the readable part of the original file name and makes it unique.
func publicID(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Trim(unsafePublicIDChars.ReplaceAllString(base, "-"), "-")
	if base == "" {
		base = "document"
	}
	return base + "-" + uuid.NewString()
}

func (f *FileUploader) Upload(ctx context.Context, name string, content io.Reader) (string, error) {
	if f.cloud_name == "" {
		return "", ErrNotConfigured
	}

	cld, err := cloudinary.NewFromParams(f.cloud_name, f.api_key, f.api_secret)
	if err != nil {
		return "", err
	}

	uploadResult, err := cld.Upload.Upload(ctx, content, uploader.UploadParams{
		Folder:    documentFolder,
		PublicID:  publicID(name),
		Overwrite: api.Bool(false),
	})
	if err != nil {
		return "", err
	}
	if uploadResult.Error.Message != "" {
		return "", errors.New(uploadResult.Error.Message)
	}

	f.logger.Info("file uploaded", "url", uploadResult.SecureURL)
	return uploadResult.SecureURL, nil
}
