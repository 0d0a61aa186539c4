package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxFileSizeMB caps a single upload.
	MaxFileSizeMB = 10

	// ThumbnailWidth is the width of the generated thumbnail variant.
	ThumbnailWidth = 320

	jpegQuality = 85
)

// SupportedImageTypes lists the content types accepted for listing photos.
var SupportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ErrUnsupportedType rejects uploads outside SupportedImageTypes.
var ErrUnsupportedType = errors.New("unsupported image type")

// ErrTooLarge rejects uploads over MaxFileSizeMB.
var ErrTooLarge = errors.New("image exceeds size limit")

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// StoredImage describes an ingested photo and its variants.
type StoredImage struct {
	Key          string `json:"key"`
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Checksum     string `json:"checksum"`
}

// Ingester validates listing photos and stores them in S3. Keys are derived
// from the content hash, so re-uploading the same bytes lands on the same key.
type Ingester struct {
	uploader putObjectAPI
	bucket   string
}

// NewIngester creates an ingester writing to the given bucket.
func NewIngester(client *s3.Client, bucket string) *Ingester {
	return &Ingester{uploader: client, bucket: bucket}
}

// Ingest reads an image, validates type and size, stores the original and a
// thumbnail variant, and returns the stored keys.
func (i *Ingester) Ingest(ctx context.Context, file io.Reader) (*StoredImage, error) {
	maxBytes := int64(MaxFileSizeMB*1024*1024) + 1
	data, err := io.ReadAll(io.LimitReader(file, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if len(data) > MaxFileSizeMB*1024*1024 {
		return nil, ErrTooLarge
	}

	contentType := detectContentType(data)
	if !SupportedImageTypes[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	bounds := img.Bounds()

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])
	ext := extensionFor(contentType)
	key := fmt.Sprintf("media/%s%s", checksum, ext)

	if err := i.uploadToS3(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("uploading original: %w", err)
	}

	stored := &StoredImage{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Checksum:    checksum,
	}

	// Thumbnail only when the original is wider than the target. There is no
	// webp encoder, so webp thumbnails come out as JPEG.
	if bounds.Dx() > ThumbnailWidth {
		thumbExt, thumbType := ext, contentType
		if format == "webp" {
			thumbExt, thumbType = ".jpg", "image/jpeg"
		}
		thumbKey := fmt.Sprintf("media/%s_%dw%s", checksum, ThumbnailWidth, thumbExt)
		thumbData, err := resizeImage(img, ThumbnailWidth, format)
		if err == nil {
			if err := i.uploadToS3(ctx, thumbKey, thumbData, thumbType); err == nil {
				stored.ThumbnailKey = thumbKey
			}
		}
	}

	return stored, nil
}

func (i *Ingester) uploadToS3(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := i.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(i.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000"),
	})
	return err
}

func resizeImage(img image.Image, maxWidth int, format string) ([]byte, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxWidth {
		return nil, fmt.Errorf("image already smaller than target")
	}

	newHeight := int(float64(height) * float64(maxWidth) / float64(width))
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, dst); err != nil {
			return nil, err
		}
	case "gif":
		if err := gif.Encode(&buf, dst, nil); err != nil {
			return nil, err
		}
	default:
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func detectContentType(data []byte) string {
	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8 {
		return "image/jpeg"
	}
	if len(data) >= 4 && data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G' {
		return "image/png"
	}
	if len(data) >= 3 && data[0] == 'G' && data[1] == 'I' && data[2] == 'F' {
		return "image/gif"
	}
	if len(data) >= 12 && data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P' {
		return "image/webp"
	}
	return "application/octet-stream"
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
