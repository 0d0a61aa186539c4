package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amberpages/classifieds/internal/domain"
	"github.com/amberpages/classifieds/internal/geo"
	"github.com/amberpages/classifieds/internal/media"
	"github.com/amberpages/classifieds/internal/repository/memory"
	"github.com/amberpages/classifieds/internal/service/admission"
	"github.com/amberpages/classifieds/internal/service/listing"
)

type stubResolver struct {
	err error
}

func (s *stubResolver) ResolveURL(_ context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://signed.example.com/" + key, nil
}

func (s *stubResolver) ResolveAll(ctx context.Context, keys []string) ([]string, error) {
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		u, err := s.ResolveURL(ctx, key)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}

type stubIngester struct {
	err  error
	last *media.StoredImage
}

func (s *stubIngester) Ingest(_ context.Context, file io.Reader) (*media.StoredImage, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	s.last = &media.StoredImage{
		Key:         "media/deadbeef.jpg",
		ContentType: "image/jpeg",
		Size:        int64(len(data)),
	}
	return s.last, nil
}

type stubGeocoder struct {
	place geo.Place
	err   error
}

func (s *stubGeocoder) Reverse(_ context.Context, _, _ float64) (geo.Place, error) {
	return s.place, s.err
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := memory.NewListingRepo()
	gate := admission.NewGate(repo, admission.NewMemoryLog(), admission.Config{})
	svc := listing.NewService(repo, gate)

	h := NewHandlers(svc)
	h.SetMediaResolver(&stubResolver{})
	h.SetMediaIngester(&stubIngester{})
	h.SetGeocoder(&stubGeocoder{place: geo.Place{City: "Amsterdam", Region: "North Holland", Country: "Netherlands"}})

	srv := httptest.NewServer(SetupRoutes(h))
	t.Cleanup(srv.Close)
	return srv
}

func postListing(t *testing.T, srv *httptest.Server, body map[string]any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(srv.URL+"/api/listings", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST /api/listings: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestSubmitListing_FirstSubmissionCreates(t *testing.T) {
	srv := newTestServer(t)

	resp := postListing(t, srv, map[string]any{
		"email": "mia@example.com", "user_id": "mia1", "title": "Evening companion",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["action"] != "created" {
		t.Errorf("expected action created, got %v", body["action"])
	}
	if body["id"] == "" {
		t.Error("expected an id")
	}
}

func TestSubmitListing_SecondSubmissionUpdates(t *testing.T) {
	srv := newTestServer(t)

	first := decodeBody(t, postListing(t, srv, map[string]any{
		"email": "mia@example.com", "user_id": "mia1", "title": "First",
	}))

	resp := postListing(t, srv, map[string]any{
		"email": "mia@example.com", "user_id": "mia1", "title": "Second",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["action"] != "updated" {
		t.Errorf("expected action updated, got %v", body["action"])
	}
	if body["id"] != first["id"] {
		t.Errorf("expected same id %v, got %v", first["id"], body["id"])
	}
}

func TestSubmitListing_FourthAttemptRateLimited(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := postListing(t, srv, map[string]any{
			"email": "mia@example.com", "user_id": "mia1", "title": fmt.Sprintf("Rev %d", i),
		})
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			t.Fatalf("attempt %d unexpectedly failed with %d", i+1, resp.StatusCode)
		}
	}

	resp := postListing(t, srv, map[string]any{
		"email": "mia@example.com", "user_id": "mia1", "title": "One too many",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}
	body := decodeBody(t, resp)
	if body["code"] != "rate_limit" {
		t.Errorf("expected code rate_limit, got %v", body["code"])
	}
}

func TestSubmitListing_MissingIdentity(t *testing.T) {
	srv := newTestServer(t)

	resp := postListing(t, srv, map[string]any{"title": "No identity"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "validation" {
		t.Errorf("expected code validation, got %v", body["code"])
	}
}

// conflictRepo loses every insert race and never resolves the winner,
// simulating a record that vanished between the conflict and the retry.
type conflictRepo struct{}

func (conflictRepo) Get(_ context.Context, _ string) (*domain.Listing, error) {
	return nil, listing.ErrNotFound
}

func (conflictRepo) FindByField(_ context.Context, _, _ string) (*domain.Listing, error) {
	return nil, nil
}

func (conflictRepo) Insert(_ context.Context, _ *domain.Listing) error {
	return listing.ErrDuplicate
}

func (conflictRepo) Update(_ context.Context, _ string, _ *domain.Listing) error {
	return listing.ErrNotFound
}

func TestSubmitListing_UnresolvedConflict_Retryable(t *testing.T) {
	gate := admission.NewGate(conflictRepo{}, admission.NewMemoryLog(), admission.Config{})
	h := NewHandlers(listing.NewService(conflictRepo{}, gate))
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	resp := postListing(t, srv, map[string]any{
		"email": "mia@example.com", "user_id": "mia1", "title": "Racy",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "store_error" {
		t.Errorf("expected code store_error, got %v", body["code"])
	}
	if resp.Header.Get("Retry-After") != "" {
		t.Error("conflict is retryable immediately, no Retry-After expected")
	}
}

func TestSubmitListing_InvalidJSON(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/listings", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitListing_CoordinatesFillPlace(t *testing.T) {
	srv := newTestServer(t)

	resp := postListing(t, srv, map[string]any{
		"email": "mia@example.com", "user_id": "mia1", "title": "Near the canal",
		"lat": 52.37, "lon": 4.89,
	})
	created := decodeBody(t, resp)

	got, err := http.Get(srv.URL + "/api/listings/" + created["id"].(string))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeBody(t, got)
	if body["city"] != "Amsterdam" {
		t.Errorf("expected geocoded city, got %v", body["city"])
	}
}

func TestGetListing_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/listings/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetListing_ResolvesMediaURLs(t *testing.T) {
	srv := newTestServer(t)

	created := decodeBody(t, postListing(t, srv, map[string]any{
		"email": "mia@example.com", "user_id": "mia1", "title": "With photos",
		"media_keys": []string{"media/abc.jpg"},
	}))

	resp, err := http.Get(srv.URL + "/api/listings/" + created["id"].(string))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeBody(t, resp)
	urls, ok := body["media_urls"].([]any)
	if !ok || len(urls) != 1 {
		t.Fatalf("expected one media url, got %v", body["media_urls"])
	}
	if urls[0] != "https://signed.example.com/media/abc.jpg" {
		t.Errorf("unexpected url %v", urls[0])
	}
}

func postUpload(t *testing.T, srv *httptest.Server, field string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "photo.jpg")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	part.Write(data)
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/media", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /api/media: %v", err)
	}
	return resp
}

func TestUploadMedia_StoresAndReturnsKey(t *testing.T) {
	srv := newTestServer(t)

	resp := postUpload(t, srv, "file", []byte{0xFF, 0xD8, 0xFF})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["key"] != "media/deadbeef.jpg" {
		t.Errorf("unexpected key %v", body["key"])
	}
}

func TestUploadMedia_MissingFilePart(t *testing.T) {
	srv := newTestServer(t)

	resp := postUpload(t, srv, "wrong", []byte("data"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUploadMedia_UnsupportedTypeRejected(t *testing.T) {
	repo := memory.NewListingRepo()
	gate := admission.NewGate(repo, admission.NewMemoryLog(), admission.Config{})
	h := NewHandlers(listing.NewService(repo, gate))
	h.SetMediaIngester(&stubIngester{err: media.ErrUnsupportedType})
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	resp := postUpload(t, srv, "file", []byte("<html>"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "validation" {
		t.Errorf("expected code validation, got %v", body["code"])
	}
}

func TestResolveMediaURL(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/media/media%2Fabc.jpg/url")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["url"] != "https://signed.example.com/media/abc.jpg" {
		t.Errorf("unexpected url %v", body["url"])
	}
}

func TestResolveMediaURL_StoreFailure(t *testing.T) {
	repo := memory.NewListingRepo()
	gate := admission.NewGate(repo, admission.NewMemoryLog(), admission.Config{})
	h := NewHandlers(listing.NewService(repo, gate))
	h.SetMediaResolver(&stubResolver{err: errors.New("s3 down")})
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/media/abc.jpg/url")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestReverseGeocode(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/geo/reverse?lat=52.37&lon=4.89")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["city"] != "Amsterdam" {
		t.Errorf("unexpected place %v", body)
	}
}

func TestReverseGeocode_MissingParams(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/geo/reverse")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestReverseGeocode_UpstreamFailure(t *testing.T) {
	repo := memory.NewListingRepo()
	gate := admission.NewGate(repo, admission.NewMemoryLog(), admission.Config{})
	h := NewHandlers(listing.NewService(repo, gate))
	h.SetGeocoder(&stubGeocoder{err: geo.ErrUnavailable})
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/geo/reverse?lat=1&lon=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Errorf("unexpected health body %v", body)
	}
}
