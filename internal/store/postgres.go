package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/whatsin-app/whatsin/internal/db"
	"github.com/whatsin-app/whatsin/internal/geo"
	"github.com/whatsin-app/whatsin/internal/model"
)

// PostgresStore implements Store using a pgx connection pool.
//
// Wildcard matching uses ILIKE, so it is case-insensitive regardless of
// column collation.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS places (
	id        BIGSERIAL PRIMARY KEY,
	name      TEXT NOT NULL UNIQUE,
	type      TEXT NOT NULL DEFAULT '',
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS posts (
	id              BIGSERIAL PRIMARY KEY,
	product_id      BIGINT NOT NULL REFERENCES products(id),
	place_id        BIGINT NOT NULL REFERENCES places(id),
	image_file_name TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_posts_product_id ON posts(product_id);
CREATE INDEX IF NOT EXISTS idx_posts_place_id ON posts(place_id);
CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places(latitude, longitude);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// isPGUniqueViolation reports whether err is a unique_violation (23505).
func isPGUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Places ---

func (s *PostgresStore) GetPlace(ctx context.Context, id int64) (*model.Place, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, type, latitude, longitude FROM places WHERE id = $1`, id)
	return scanPlaceRow(row)
}

func (s *PostgresStore) GetPlaceByName(ctx context.Context, name string) (*model.Place, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, type, latitude, longitude FROM places WHERE name = $1`, name)
	return scanPlaceRow(row)
}

func (s *PostgresStore) CreatePlace(ctx context.Context, name string, latitude, longitude float64) (*model.Place, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO places (name, latitude, longitude) VALUES ($1, $2, $3) RETURNING id`,
		name, latitude, longitude,
	).Scan(&id)
	if err != nil {
		if isPGUniqueViolation(err) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "postgres: insert place %s", name)
	}
	return &model.Place{ID: id, Name: name, Latitude: latitude, Longitude: longitude}, nil
}

func (s *PostgresStore) GetOrCreatePlace(ctx context.Context, name string, latitude, longitude float64) (*model.Place, error) {
	place, err := s.GetPlaceByName(ctx, name)
	if err == nil {
		return place, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	place, err = s.CreatePlace(ctx, name, latitude, longitude)
	if isPGUniqueViolation(err) {
		// Lost the insert race; the concurrent row is the canonical one.
		return s.GetPlaceByName(ctx, name)
	}
	return place, err
}

func (s *PostgresStore) UpdatePlace(ctx context.Context, place *model.Place) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE places SET name = $1, type = $2, latitude = $3, longitude = $4 WHERE id = $5`,
		place.Name, place.Type, place.Latitude, place.Longitude, place.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update place %d", place.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) NearbyPlaces(ctx context.Context, latitude, longitude, radiusKM float64) ([]model.Place, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(latitude, longitude, radiusKM)

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, type, latitude, longitude FROM places
		 WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4`,
		minLat, maxLat, minLng, maxLng,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query nearby places")
	}
	defer rows.Close()

	var candidates []model.Place
	for rows.Next() {
		var p model.Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Latitude, &p.Longitude); err != nil {
			return nil, eris.Wrap(err, "postgres: scan place row")
		}
		candidates = append(candidates, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate place rows")
	}

	return rankNearby(candidates, latitude, longitude, radiusKM), nil
}

// --- Products ---

func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name FROM products WHERE id = $1`, id)
	return scanProductRow(row)
}

func (s *PostgresStore) GetProductByName(ctx context.Context, name string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name FROM products WHERE name = $1`, name)
	return scanProductRow(row)
}

func (s *PostgresStore) CreateProduct(ctx context.Context, name string) (*model.Product, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO products (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		if isPGUniqueViolation(err) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "postgres: insert product %s", name)
	}
	return &model.Product{ID: id, Name: name}, nil
}

func (s *PostgresStore) GetOrCreateProduct(ctx context.Context, name string) (*model.Product, error) {
	product, err := s.GetProductByName(ctx, name)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	product, err = s.CreateProduct(ctx, name)
	if isPGUniqueViolation(err) {
		return s.GetProductByName(ctx, name)
	}
	return product, err
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, product *model.Product) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET name = $1 WHERE id = $2`, product.Name, product.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update product %d", product.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) WildcardProductIDs(ctx context.Context, query string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM products WHERE name ILIKE $1`, wildcardPattern(query))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: wildcard product search")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate product ids")
}

// --- Posts ---

func (s *PostgresStore) CreatePost(ctx context.Context, productID, placeID int64, imageFileName string) (*model.Post, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO posts (product_id, place_id, image_file_name) VALUES ($1, $2, $3) RETURNING id`,
		productID, placeID, imageFileName,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert post")
	}
	return &model.Post{ID: id, ProductID: productID, PlaceID: placeID, ImageFileName: imageFileName}, nil
}

func (s *PostgresStore) PostsForProducts(ctx context.Context, productIDs []int64) ([]model.Post, error) {
	if len(productIDs) == 0 {
		return []model.Post{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, place_id, image_file_name FROM posts WHERE product_id = ANY($1)`,
		productIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query posts for products")
	}
	defer rows.Close()
	return scanPostRows(rows)
}

func (s *PostgresStore) PostsForProduct(ctx context.Context, productID int64) ([]model.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, place_id, image_file_name FROM posts WHERE product_id = $1`, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query posts for product %d", productID)
	}
	defer rows.Close()
	return scanPostRows(rows)
}

func (s *PostgresStore) PostsForPlace(ctx context.Context, placeID int64) ([]model.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, place_id, image_file_name FROM posts WHERE place_id = $1`, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query posts for place %d", placeID)
	}
	defer rows.Close()
	return scanPostRows(rows)
}

func (s *PostgresStore) ReferencedImages(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT image_file_name FROM posts WHERE image_file_name <> ''`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query referenced images")
	}
	defer rows.Close()

	referenced := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan image file name")
		}
		referenced[name] = true
	}
	return referenced, eris.Wrap(rows.Err(), "postgres: iterate image file names")
}

// --- scan helpers ---

func scanPlaceRow(row pgx.Row) (*model.Place, error) {
	var p model.Place
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Latitude, &p.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan place")
	}
	return &p, nil
}

func scanProductRow(row pgx.Row) (*model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan product")
	}
	return &p, nil
}

func scanPostRows(rows pgx.Rows) ([]model.Post, error) {
	posts := []model.Post{}
	for rows.Next() {
		var p model.Post
		if err := rows.Scan(&p.ID, &p.ProductID, &p.PlaceID, &p.ImageFileName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan post row")
		}
		posts = append(posts, p)
	}
	return posts, eris.Wrap(rows.Err(), "postgres: iterate post rows")
}
