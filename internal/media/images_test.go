package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeUploader struct {
	puts map[string][]byte
	err  error
}

func (f *fakeUploader) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	data, _ := io.ReadAll(params.Body)
	f.puts[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

func TestIngest_StoresUnderContentHashKey(t *testing.T) {
	uploader := &fakeUploader{}
	ing := &Ingester{uploader: uploader, bucket: "listings-media"}

	data := encodePNG(t, 100, 80)
	stored, err := ing.Ingest(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.ContentType != "image/png" {
		t.Errorf("expected image/png, got %s", stored.ContentType)
	}
	if stored.Width != 100 || stored.Height != 80 {
		t.Errorf("unexpected dimensions %dx%d", stored.Width, stored.Height)
	}
	if !strings.HasPrefix(stored.Key, "media/") || !strings.HasSuffix(stored.Key, ".png") {
		t.Errorf("unexpected key %s", stored.Key)
	}
	if _, ok := uploader.puts[stored.Key]; !ok {
		t.Error("original not uploaded")
	}
	// 100px wide, no thumbnail expected.
	if stored.ThumbnailKey != "" {
		t.Errorf("unexpected thumbnail %s", stored.ThumbnailKey)
	}
}

func TestIngest_SameBytesSameKey(t *testing.T) {
	uploader := &fakeUploader{}
	ing := &Ingester{uploader: uploader, bucket: "listings-media"}

	data := encodePNG(t, 50, 50)
	first, err := ing.Ingest(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := ing.Ingest(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if first.Key != second.Key {
		t.Errorf("expected stable keys, got %s and %s", first.Key, second.Key)
	}
}

func TestIngest_WideImage_GetsThumbnail(t *testing.T) {
	uploader := &fakeUploader{}
	ing := &Ingester{uploader: uploader, bucket: "listings-media"}

	data := encodePNG(t, 640, 480)
	stored, err := ing.Ingest(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.ThumbnailKey == "" {
		t.Fatal("expected a thumbnail for a 640px-wide image")
	}
	thumbData, ok := uploader.puts[stored.ThumbnailKey]
	if !ok {
		t.Fatal("thumbnail not uploaded")
	}
	thumb, err := png.Decode(bytes.NewReader(thumbData))
	if err != nil {
		t.Fatalf("decoding thumbnail: %v", err)
	}
	if got := thumb.Bounds().Dx(); got != ThumbnailWidth {
		t.Errorf("expected thumbnail width %d, got %d", ThumbnailWidth, got)
	}
}

func TestIngest_RejectsNonImage(t *testing.T) {
	ing := &Ingester{uploader: &fakeUploader{}, bucket: "listings-media"}

	_, err := ing.Ingest(context.Background(), strings.NewReader("<html>not an image</html>"))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestIngest_RejectsOversize(t *testing.T) {
	ing := &Ingester{uploader: &fakeUploader{}, bucket: "listings-media"}

	// JPEG magic bytes followed by padding past the limit.
	big := append([]byte{0xFF, 0xD8}, make([]byte, MaxFileSizeMB*1024*1024)...)
	_, err := ing.Ingest(context.Background(), bytes.NewReader(big))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestIngest_UploadFailure_Surfaces(t *testing.T) {
	ing := &Ingester{uploader: &fakeUploader{err: errors.New("s3 down")}, bucket: "listings-media"}

	_, err := ing.Ingest(context.Background(), bytes.NewReader(encodePNG(t, 10, 10)))
	if err == nil {
		t.Error("expected error when upload fails")
	}
}

func TestDetectContentType(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}, "image/png"},
		{"gif", []byte("GIF89a"), "image/gif"},
		{"webp", []byte("RIFF0000WEBP"), "image/webp"},
		{"text", []byte("hello world!"), "application/octet-stream"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectContentType(tc.data); got != tc.want {
				t.Errorf("detectContentType(%s) = %s, want %s", tc.name, got, tc.want)
			}
		})
	}
}
