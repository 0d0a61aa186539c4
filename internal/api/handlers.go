package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/amberpages/classifieds/internal/domain"
	"github.com/amberpages/classifieds/internal/geo"
	"github.com/amberpages/classifieds/internal/media"
	"github.com/amberpages/classifieds/internal/pkg/httputil"
	"github.com/amberpages/classifieds/internal/service/admission"
	"github.com/amberpages/classifieds/internal/service/listing"
)

// URLResolver turns stored media keys into fetchable URLs.
// Satisfied by media.Resolver.
type URLResolver interface {
	ResolveURL(ctx context.Context, key string) (string, error)
	ResolveAll(ctx context.Context, keys []string) ([]string, error)
}

// MediaIngester validates and stores uploaded photos.
// Satisfied by media.Ingester.
type MediaIngester interface {
	Ingest(ctx context.Context, file io.Reader) (*media.StoredImage, error)
}

// Geocoder resolves coordinates to a place. Satisfied by geo.Chain.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (geo.Place, error)
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	listings  *listing.Service
	resolver  URLResolver
	ingester  MediaIngester
	geocoder  Geocoder
	startTime time.Time
}

// NewHandlers creates the handler set over the listing service. Media
// resolution and geocoding are optional and attached via setters.
func NewHandlers(listings *listing.Service) *Handlers {
	return &Handlers{listings: listings, startTime: time.Now()}
}

// SetMediaResolver attaches the media URL resolver.
func (h *Handlers) SetMediaResolver(r URLResolver) { h.resolver = r }

// SetMediaIngester attaches the media upload pipeline.
func (h *Handlers) SetMediaIngester(i MediaIngester) { h.ingester = i }

// SetGeocoder attaches the reverse geocoding chain.
func (h *Handlers) SetGeocoder(g Geocoder) { h.geocoder = g }

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

type submitRequest struct {
	Email        string   `json:"email"`
	UserID       string   `json:"user_id"`
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	Description  string   `json:"description"`
	PriceCents   int64    `json:"price_cents"`
	City         string   `json:"city"`
	Region       string   `json:"region"`
	Country      string   `json:"country"`
	ContactPhone string   `json:"contact_phone"`
	MediaKeys    []string `json:"media_keys"`
	Lat          *float64 `json:"lat,omitempty"`
	Lon          *float64 `json:"lon,omitempty"`
}

type submitResponse struct {
	ID     string              `json:"id"`
	Action domain.UpsertAction `json:"action"`
}

// SubmitListing handles POST /api/listings
func (h *Handlers) SubmitListing(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	payload := domain.Listing{
		Title:        req.Title,
		Category:     req.Category,
		Description:  req.Description,
		PriceCents:   req.PriceCents,
		City:         req.City,
		Region:       req.Region,
		Country:      req.Country,
		ContactPhone: req.ContactPhone,
		MediaKeys:    req.MediaKeys,
	}

	// Coordinates fill in missing place fields when a geocoder is wired.
	// Lookup failure is tolerated; the listing keeps whatever was sent.
	if payload.City == "" && req.Lat != nil && req.Lon != nil && h.geocoder != nil {
		if place, err := h.geocoder.Reverse(r.Context(), *req.Lat, *req.Lon); err == nil {
			payload.City = place.City
			payload.Region = place.Region
			payload.Country = place.Country
		}
	}

	identity := domain.SubmissionIdentity{Email: req.Email, UserID: req.UserID}
	outcome, err := h.listings.Submit(r.Context(), identity, payload, time.Now())
	if err != nil {
		// An unresolved insert conflict (the winning record vanished before
		// the retry) is transient; the submitter should just try again.
		if errors.Is(err, admission.ErrStoreUnavailable) || errors.Is(err, listing.ErrDuplicate) {
			httputil.Unavailable(w, err)
			return
		}
		httputil.InternalError(w, err)
		return
	}

	decision := outcome.Decision
	if !decision.Allowed {
		switch decision.Reason {
		case domain.ReasonRateLimit:
			httputil.TooManyRequests(w, decision.RetryAfter,
				fmt.Sprintf("too many attempts, try again in %d minutes", minutesCeil(decision.RetryAfter)))
		default:
			httputil.ErrorCode(w, http.StatusBadRequest, string(domain.ReasonValidation),
				"email and user_id are required")
		}
		return
	}

	resp := submitResponse{ID: outcome.Result.ID, Action: outcome.Result.Action}
	if outcome.Result.Action == domain.ActionCreated {
		httputil.Created(w, resp)
		return
	}
	httputil.OK(w, resp)
}

type listingResponse struct {
	*domain.Listing
	MediaURLs []string `json:"media_urls,omitempty"`
}

// GetListing handles GET /api/listings/{id}
func (h *Handlers) GetListing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.listings.Get(r.Context(), id)
	if errors.Is(err, listing.ErrNotFound) {
		httputil.NotFound(w, "listing not found")
		return
	}
	if err != nil {
		httputil.Unavailable(w, err)
		return
	}

	resp := listingResponse{Listing: rec}
	if h.resolver != nil && len(rec.MediaKeys) > 0 {
		// Resolution is best-effort; the listing is served either way.
		if urls, err := h.resolver.ResolveAll(r.Context(), rec.MediaKeys); err == nil {
			resp.MediaURLs = urls
		}
	}
	httputil.OK(w, resp)
}

// UploadMedia handles POST /api/media. The photo arrives as the "file" part
// of a multipart form; the response carries the stored keys for use in a
// subsequent listing submission's media_keys.
func (h *Handlers) UploadMedia(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		httputil.NotFound(w, "media storage not configured")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	stored, err := h.ingester.Ingest(r.Context(), file)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedType) || errors.Is(err, media.ErrTooLarge) {
			httputil.ErrorCode(w, http.StatusBadRequest, string(domain.ReasonValidation), err.Error())
			return
		}
		httputil.Unavailable(w, err)
		return
	}
	httputil.Created(w, stored)
}

// ResolveMediaURL handles GET /api/media/{key}/url. Keys contain slashes, so
// callers path-escape them.
func (h *Handlers) ResolveMediaURL(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		httputil.NotFound(w, "media storage not configured")
		return
	}

	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		httputil.BadRequest(w, "invalid media key")
		return
	}

	resolved, err := h.resolver.ResolveURL(r.Context(), key)
	if err != nil {
		httputil.Unavailable(w, err)
		return
	}
	httputil.OK(w, map[string]string{"url": resolved})
}

// ReverseGeocode handles GET /api/geo/reverse?lat=&lon=
func (h *Handlers) ReverseGeocode(w http.ResponseWriter, r *http.Request) {
	if h.geocoder == nil {
		httputil.NotFound(w, "geocoding not configured")
		return
	}

	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		httputil.BadRequest(w, "lat and lon query parameters are required")
		return
	}

	place, err := h.geocoder.Reverse(r.Context(), lat, lon)
	if err != nil {
		httputil.ErrorCode(w, http.StatusBadGateway, "upstream_error", "reverse geocoding unavailable")
		return
	}
	httputil.OK(w, place)
}

func minutesCeil(d time.Duration) int {
	mins := int(d / time.Minute)
	if d%time.Minute > 0 {
		mins++
	}
	if mins < 1 {
		mins = 1
	}
	return mins
}
