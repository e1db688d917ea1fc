package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndResolvePlace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		place, err := s.CreatePlace(ctx, "The Food Shop", 51.458068, -2.591259)
		require.NoError(t, err)
		assert.NotZero(t, place.ID)

		got, err := s.GetPlaceByName(ctx, "The Food Shop")
		require.NoError(t, err)
		assert.Equal(t, place.ID, got.ID)
		assert.InDelta(t, 51.458068, got.Latitude, 1e-9)
		assert.InDelta(t, -2.591259, got.Longitude, 1e-9)

		byID, err := s.GetPlace(ctx, place.ID)
		require.NoError(t, err)
		assert.Equal(t, "The Food Shop", byID.Name)
	})

	t.Run("ResolveMissingPlace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetPlaceByName(ctx, "nowhere")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetPlace(ctx, 9999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("GetOrCreatePlaceIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.GetOrCreatePlace(ctx, "Corner Shop", 51.0, -2.0)
		require.NoError(t, err)

		second, err := s.GetOrCreatePlace(ctx, "Corner Shop", 52.0, -3.0)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		// The original coordinates win; resolve never overwrites.
		assert.InDelta(t, 51.0, second.Latitude, 1e-9)
	})

	t.Run("GetOrCreateProductConcurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const workers = 10
		ids := make(chan int64, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := s.GetOrCreateProduct(ctx, "bread")
				assert.NoError(t, err)
				if p != nil {
					ids <- p.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		var first int64
		for id := range ids {
			if first == 0 {
				first = id
			}
			assert.Equal(t, first, id)
		}

		// Exactly one row exists.
		all, err := s.WildcardProductIDs(ctx, "bread")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("UpdatePlaceFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		place, err := s.CreatePlace(ctx, "Cafe", 51.0, -2.0)
		require.NoError(t, err)

		place.Type = "café"
		require.NoError(t, s.UpdatePlace(ctx, place))

		got, err := s.GetPlace(ctx, place.ID)
		require.NoError(t, err)
		assert.Equal(t, "café", got.Type)

		missing := *place
		missing.ID = 4242
		assert.ErrorIs(t, s.UpdatePlace(ctx, &missing), ErrNotFound)
	})

	t.Run("UpdateProduct", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		product, err := s.CreateProduct(ctx, "oat milk")
		require.NoError(t, err)

		product.Name = "oat drink"
		require.NoError(t, s.UpdateProduct(ctx, product))

		got, err := s.GetProductByName(ctx, "oat drink")
		require.NoError(t, err)
		assert.Equal(t, product.ID, got.ID)
	})

	t.Run("WildcardSearch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		names := []string{"bread", "the organic bread", "the bread", "breadcrumb shop", "milk"}
		byName := map[string]int64{}
		for _, n := range names {
			p, err := s.CreateProduct(ctx, n)
			require.NoError(t, err)
			byName[n] = p.ID
		}

		// Whitespace widens to an "any characters" gap: "the bread"
		// becomes %the%bread%.
		ids, err := s.WildcardProductIDs(ctx, "the bread")
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{byName["the organic bread"], byName["the bread"]}, ids)

		// Plain substring.
		ids, err = s.WildcardProductIDs(ctx, "bread")
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{
			byName["bread"], byName["the organic bread"], byName["the bread"], byName["breadcrumb shop"],
		}, ids)

		// Case-insensitive.
		ids, err = s.WildcardProductIDs(ctx, "BREAD")
		require.NoError(t, err)
		assert.Len(t, ids, 4)

		// No match.
		ids, err = s.WildcardProductIDs(ctx, "cheese")
		require.NoError(t, err)
		assert.Empty(t, ids)

		// Empty query matches everything.
		ids, err = s.WildcardProductIDs(ctx, "")
		require.NoError(t, err)
		assert.Len(t, ids, len(names))
	})

	t.Run("NearbyPlacesOrdering", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		// Distances from (51.0, -2.0), roughly: 0 km, ~1.1 km, ~7 km,
		// and one far outside the radius.
		_, err := s.CreatePlace(ctx, "here", 51.0, -2.0)
		require.NoError(t, err)
		_, err = s.CreatePlace(ctx, "close", 51.01, -2.0)
		require.NoError(t, err)
		_, err = s.CreatePlace(ctx, "farther", 51.0, -2.1)
		require.NoError(t, err)
		_, err = s.CreatePlace(ctx, "another city", 52.0, -3.0)
		require.NoError(t, err)

		places, err := s.NearbyPlaces(ctx, 51.0, -2.0, 10)
		require.NoError(t, err)
		require.Len(t, places, 3)
		assert.Equal(t, "here", places[0].Name)
		assert.Equal(t, "close", places[1].Name)
		assert.Equal(t, "farther", places[2].Name)
		for i := 1; i < len(places); i++ {
			assert.GreaterOrEqual(t, places[i].DistanceKM, places[i-1].DistanceKM)
		}
	})

	t.Run("NearbyPlacesEmpty", func(t *testing.T) {
		s := newStore(t)

		places, err := s.NearbyPlaces(context.Background(), 51.0, -2.0, 10)
		require.NoError(t, err)
		assert.Empty(t, places)
		assert.NotNil(t, places)
	})

	t.Run("PostsDerivedViews", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		bread, err := s.CreateProduct(ctx, "bread")
		require.NoError(t, err)
		milk, err := s.CreateProduct(ctx, "milk")
		require.NoError(t, err)
		shop, err := s.CreatePlace(ctx, "shop", 51.0, -2.0)
		require.NoError(t, err)

		post1, err := s.CreatePost(ctx, bread.ID, shop.ID, "1.jpg")
		require.NoError(t, err)
		_, err = s.CreatePost(ctx, milk.ID, shop.ID, "")
		require.NoError(t, err)

		posts, err := s.PostsForProducts(ctx, []int64{bread.ID, milk.ID})
		require.NoError(t, err)
		assert.Len(t, posts, 2)

		posts, err = s.PostsForProduct(ctx, bread.ID)
		require.NoError(t, err)
		require.Len(t, posts, 1)
		assert.Equal(t, post1.ID, posts[0].ID)
		assert.Equal(t, "1.jpg", posts[0].ImageFileName)

		posts, err = s.PostsForPlace(ctx, shop.ID)
		require.NoError(t, err)
		assert.Len(t, posts, 2)

		posts, err = s.PostsForProducts(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, posts)
	})

	t.Run("ReferencedImages", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		bread, err := s.CreateProduct(ctx, "bread")
		require.NoError(t, err)
		shop, err := s.CreatePlace(ctx, "shop", 51.0, -2.0)
		require.NoError(t, err)

		_, err = s.CreatePost(ctx, bread.ID, shop.ID, "a.jpg")
		require.NoError(t, err)
		_, err = s.CreatePost(ctx, bread.ID, shop.ID, "")
		require.NoError(t, err)
		_, err = s.CreatePost(ctx, bread.ID, shop.ID, "a.jpg")
		require.NoError(t, err)

		referenced, err := s.ReferencedImages(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"a.jpg": true}, referenced)
	})

	t.Run("DuplicateCreateFails", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateProduct(ctx, "bread")
		require.NoError(t, err)
		_, err = s.CreateProduct(ctx, "bread")
		assert.Error(t, err)
	})
}
