// Package discovery orchestrates the sighting workflow: recording
// where a product was seen and answering nearby-place and
// product-search queries over the recorded sightings.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/whatsin-app/whatsin/internal/geo"
	"github.com/whatsin-app/whatsin/internal/imagemeta"
	"github.com/whatsin-app/whatsin/internal/imagestore"
	"github.com/whatsin-app/whatsin/internal/model"
	"github.com/whatsin-app/whatsin/internal/store"
)

// ErrValidation marks malformed or missing caller input: blank names or
// an absent/out-of-range coordinate pair. Never retried.
var ErrValidation = errors.New("discovery: invalid input")

// ErrIntegrity marks a post whose product or place id no longer
// resolves. Referential integrity guarantees this cannot happen, so an
// occurrence means the data is corrupt.
var ErrIntegrity = errors.New("discovery: dangling post reference")

// Service ties the stores together behind the public operations.
type Service struct {
	store    store.Store
	images   *imagestore.Store
	meta     *imagemeta.Extractor
	radiusKM float64
}

// NewService creates a Service. radiusKM bounds nearby-place queries.
func NewService(st store.Store, images *imagestore.Store, radiusKM float64) *Service {
	return &Service{
		store:    st,
		images:   images,
		meta:     imagemeta.NewExtractor(),
		radiusKM: radiusKM,
	}
}

// ProcessUpload extracts GPS coordinates from an uploaded image and, on
// success, stores the normalized image under the generated name. The
// coordinates are echoed back to the client, which includes them in the
// follow-up AddSighting call.
func (s *Service) ProcessUpload(ctx context.Context, r io.Reader, originalFileName string) (*model.GeoResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: read upload")
	}

	res, err := s.meta.Extract(bytes.NewReader(data), originalFileName)
	if err != nil {
		return nil, err
	}

	if err := s.images.Save(res.FileName, data); err != nil {
		return nil, err
	}

	zap.L().Info("image upload processed",
		zap.String("file", res.FileName),
		zap.Float64("latitude", res.Latitude),
		zap.Float64("longitude", res.Longitude),
	)
	return res, nil
}

// AddSighting records that a product was seen at a place, resolving or
// creating both entities by name. imageFileName may be empty when no
// photo was attached. The referenced product and place rows are
// created before the post, so the post never dangles.
func (s *Service) AddSighting(ctx context.Context, productName, placeName string, latitude, longitude *float64, imageFileName string) (*model.Post, error) {
	if strings.TrimSpace(productName) == "" || strings.TrimSpace(placeName) == "" {
		return nil, eris.Wrap(ErrValidation, "blank product or place name")
	}
	if !geo.IsValidLocation(latitude, longitude) {
		return nil, eris.Wrap(ErrValidation, "missing or out-of-range coordinates")
	}

	place, err := s.store.GetOrCreatePlace(ctx, placeName, *latitude, *longitude)
	if err != nil {
		return nil, err
	}

	product, err := s.store.GetOrCreateProduct(ctx, productName)
	if err != nil {
		return nil, err
	}

	post, err := s.store.CreatePost(ctx, product.ID, place.ID, imageFileName)
	if err != nil {
		return nil, err
	}

	zap.L().Info("sighting added",
		zap.Int64("post", post.ID),
		zap.String("product", product.Name),
		zap.String("place", place.Name),
		zap.Bool("has_image", imageFileName != ""),
	)
	return post, nil
}

// NearbyPlaces returns places within the configured radius of the
// point, nearest first.
func (s *Service) NearbyPlaces(ctx context.Context, latitude, longitude *float64) ([]model.Place, error) {
	if !geo.IsValidLocation(latitude, longitude) {
		return nil, eris.Wrap(ErrValidation, "missing or out-of-range coordinates")
	}
	return s.store.NearbyPlaces(ctx, *latitude, *longitude, s.radiusKM)
}

// FindProducts runs the wildcard product search and joins each matching
// post with its place and product. baseURL (scheme://host of the
// current request) is used to build fully-qualified image links.
//
// Each post's place and product are resolved individually; a batched
// join would be cheaper but this keeps per-row failure semantics
// explicit at the current scale.
func (s *Service) FindProducts(ctx context.Context, query, baseURL string) ([]model.SearchResult, error) {
	ids, err := s.store.WildcardProductIDs(ctx, query)
	if err != nil {
		return nil, err
	}

	posts, err := s.store.PostsForProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := []model.SearchResult{}
	for _, post := range posts {
		place, err := s.store.GetPlace(ctx, post.PlaceID)
		if err != nil {
			return nil, s.integrityFault(post, "place", err)
		}
		product, err := s.store.GetProduct(ctx, post.ProductID)
		if err != nil {
			return nil, s.integrityFault(post, "product", err)
		}

		imageHref := ""
		if strings.TrimSpace(post.ImageFileName) != "" {
			imageHref = baseURL + "/ImageUploads/" + post.ImageFileName
		}

		results = append(results, model.SearchResult{
			PlaceName:   place.Name,
			ProductName: product.Name,
			Latitude:    place.Latitude,
			Longitude:   place.Longitude,
			ImageHref:   imageHref,
		})
	}
	return results, nil
}

// ReapOrphans deletes stored images older than olderThan that no post
// references. An upload with no follow-up AddSighting leaves such an
// orphan behind.
func (s *Service) ReapOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	referenced, err := s.store.ReferencedImages(ctx)
	if err != nil {
		return 0, err
	}
	return s.images.Reap(ctx, olderThan, referenced)
}

func (s *Service) integrityFault(post model.Post, entity string, err error) error {
	zap.L().Error("post references a row that does not resolve",
		zap.Int64("post", post.ID),
		zap.Int64("product", post.ProductID),
		zap.Int64("place", post.PlaceID),
		zap.String("entity", entity),
		zap.Error(err),
	)
	if errors.Is(err, store.ErrNotFound) {
		return eris.Wrapf(ErrIntegrity, "post %d: missing %s", post.ID, entity)
	}
	return err
}
