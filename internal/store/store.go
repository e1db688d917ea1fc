package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/whatsin-app/whatsin/internal/geo"
	"github.com/whatsin-app/whatsin/internal/model"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the persistence contract for places, products, and the
// posts linking them. Product and place names are unique resolution
// keys enforced by the storage layer; GetOrCreate* absorbs the
// duplicate-key race by re-resolving on conflict.
type Store interface {
	// Places
	GetPlace(ctx context.Context, id int64) (*model.Place, error)
	GetPlaceByName(ctx context.Context, name string) (*model.Place, error)
	CreatePlace(ctx context.Context, name string, latitude, longitude float64) (*model.Place, error)
	GetOrCreatePlace(ctx context.Context, name string, latitude, longitude float64) (*model.Place, error)
	UpdatePlace(ctx context.Context, place *model.Place) error

	// NearbyPlaces returns places within radiusKM of the point, nearest
	// first by haversine distance.
	NearbyPlaces(ctx context.Context, latitude, longitude, radiusKM float64) ([]model.Place, error)

	// Products
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	GetProductByName(ctx context.Context, name string) (*model.Product, error)
	CreateProduct(ctx context.Context, name string) (*model.Product, error)
	GetOrCreateProduct(ctx context.Context, name string) (*model.Product, error)
	UpdateProduct(ctx context.Context, product *model.Product) error

	// WildcardProductIDs matches product names against the query with
	// runs of whitespace widened to "any characters" gaps. An empty
	// query matches every product. Matching is case-insensitive.
	WildcardProductIDs(ctx context.Context, query string) ([]int64, error)

	// Posts (append-only; the posts of a product or place are a derived
	// view computed by these queries, never a field on the parent)
	CreatePost(ctx context.Context, productID, placeID int64, imageFileName string) (*model.Post, error)
	PostsForProducts(ctx context.Context, productIDs []int64) ([]model.Post, error)
	PostsForProduct(ctx context.Context, productID int64) ([]model.Post, error)
	PostsForPlace(ctx context.Context, placeID int64) ([]model.Post, error)

	// ReferencedImages returns the set of image file names some post
	// points at; the orphan sweep keeps only these.
	ReferencedImages(ctx context.Context) (map[string]bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// wildcardPattern converts a search query into a LIKE pattern: runs of
// whitespace become %, and the whole pattern is bounded by % on both
// ends. An empty query yields a match-all pattern.
func wildcardPattern(query string) string {
	return "%" + strings.Join(strings.Fields(query), "%") + "%"
}

// rankNearby applies the exact haversine cut to bounding-box candidates
// and orders them nearest first. Shared by both store implementations
// so the distance formula stays consistent.
func rankNearby(candidates []model.Place, latitude, longitude, radiusKM float64) []model.Place {
	ranked := []model.Place{}
	for _, p := range candidates {
		d := geo.DistanceKM(latitude, longitude, p.Latitude, p.Longitude)
		if d <= radiusKM {
			p.DistanceKM = d
			ranked = append(ranked, p)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].DistanceKM < ranked[j].DistanceKM
	})
	return ranked
}
