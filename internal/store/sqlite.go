package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/whatsin-app/whatsin/internal/geo"
	"github.com/whatsin-app/whatsin/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
//
// Wildcard matching relies on SQLite's default LIKE behavior, which is
// case-insensitive for ASCII.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS places (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL UNIQUE,
	type      TEXT NOT NULL DEFAULT '',
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS posts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id      INTEGER NOT NULL REFERENCES products(id),
	place_id        INTEGER NOT NULL REFERENCES places(id),
	image_file_name TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_posts_product_id ON posts(product_id);
CREATE INDEX IF NOT EXISTS idx_posts_place_id ON posts(place_id);
CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places(latitude, longitude);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isSQLiteUniqueViolation reports whether err is a UNIQUE constraint
// failure. modernc.org/sqlite does not export a typed error for this,
// so the driver message is matched.
func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Places ---

func (s *SQLiteStore) GetPlace(ctx context.Context, id int64) (*model.Place, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, latitude, longitude FROM places WHERE id = ?`, id)
	return scanPlace(row)
}

func (s *SQLiteStore) GetPlaceByName(ctx context.Context, name string) (*model.Place, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, latitude, longitude FROM places WHERE name = ?`, name)
	return scanPlace(row)
}

func (s *SQLiteStore) CreatePlace(ctx context.Context, name string, latitude, longitude float64) (*model.Place, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO places (name, latitude, longitude) VALUES (?, ?, ?)`,
		name, latitude, longitude,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert place %s", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: place insert id")
	}
	return &model.Place{ID: id, Name: name, Latitude: latitude, Longitude: longitude}, nil
}

func (s *SQLiteStore) GetOrCreatePlace(ctx context.Context, name string, latitude, longitude float64) (*model.Place, error) {
	place, err := s.GetPlaceByName(ctx, name)
	if err == nil {
		return place, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	place, err = s.CreatePlace(ctx, name, latitude, longitude)
	if isSQLiteUniqueViolation(err) {
		// A concurrent writer created the row between the resolve and
		// the insert; the name is the canonical key, so return theirs.
		return s.GetPlaceByName(ctx, name)
	}
	return place, err
}

func (s *SQLiteStore) UpdatePlace(ctx context.Context, place *model.Place) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE places SET name = ?, type = ?, latitude = ?, longitude = ? WHERE id = ?`,
		place.Name, place.Type, place.Latitude, place.Longitude, place.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update place %d", place.ID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) NearbyPlaces(ctx context.Context, latitude, longitude, radiusKM float64) ([]model.Place, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(latitude, longitude, radiusKM)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, latitude, longitude FROM places
		 WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		minLat, maxLat, minLng, maxLng,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query nearby places")
	}
	defer rows.Close()

	var candidates []model.Place
	for rows.Next() {
		var p model.Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Latitude, &p.Longitude); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan place row")
		}
		candidates = append(candidates, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate place rows")
	}

	return rankNearby(candidates, latitude, longitude, radiusKM), nil
}

// --- Products ---

func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

func (s *SQLiteStore) GetProductByName(ctx context.Context, name string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name FROM products WHERE name = ?`, name)
	return scanProduct(row)
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, name string) (*model.Product, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO products (name) VALUES (?)`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert product %s", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: product insert id")
	}
	return &model.Product{ID: id, Name: name}, nil
}

func (s *SQLiteStore) GetOrCreateProduct(ctx context.Context, name string) (*model.Product, error) {
	product, err := s.GetProductByName(ctx, name)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	product, err = s.CreateProduct(ctx, name)
	if isSQLiteUniqueViolation(err) {
		return s.GetProductByName(ctx, name)
	}
	return product, err
}

func (s *SQLiteStore) UpdateProduct(ctx context.Context, product *model.Product) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET name = ? WHERE id = ?`, product.Name, product.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update product %d", product.ID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) WildcardProductIDs(ctx context.Context, query string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM products WHERE name LIKE ?`, wildcardPattern(query))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: wildcard product search")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate product ids")
}

// --- Posts ---

func (s *SQLiteStore) CreatePost(ctx context.Context, productID, placeID int64, imageFileName string) (*model.Post, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (product_id, place_id, image_file_name) VALUES (?, ?, ?)`,
		productID, placeID, imageFileName,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert post")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: post insert id")
	}
	return &model.Post{ID: id, ProductID: productID, PlaceID: placeID, ImageFileName: imageFileName}, nil
}

func (s *SQLiteStore) PostsForProducts(ctx context.Context, productIDs []int64) ([]model.Post, error) {
	if len(productIDs) == 0 {
		return []model.Post{}, nil
	}

	placeholders := make([]string, len(productIDs))
	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, place_id, image_file_name FROM posts WHERE product_id IN (`+
			strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query posts for products")
	}
	defer rows.Close()
	return scanPosts(rows)
}

func (s *SQLiteStore) PostsForProduct(ctx context.Context, productID int64) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, place_id, image_file_name FROM posts WHERE product_id = ?`, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query posts for product %d", productID)
	}
	defer rows.Close()
	return scanPosts(rows)
}

func (s *SQLiteStore) PostsForPlace(ctx context.Context, placeID int64) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, place_id, image_file_name FROM posts WHERE place_id = ?`, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query posts for place %d", placeID)
	}
	defer rows.Close()
	return scanPosts(rows)
}

func (s *SQLiteStore) ReferencedImages(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT image_file_name FROM posts WHERE image_file_name <> ''`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query referenced images")
	}
	defer rows.Close()

	referenced := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan image file name")
		}
		referenced[name] = true
	}
	return referenced, eris.Wrap(rows.Err(), "sqlite: iterate image file names")
}

// --- scan helpers ---

func scanPlace(row *sql.Row) (*model.Place, error) {
	var p model.Place
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Latitude, &p.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan place")
	}
	return &p, nil
}

func scanProduct(row *sql.Row) (*model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan product")
	}
	return &p, nil
}

func scanPosts(rows *sql.Rows) ([]model.Post, error) {
	posts := []model.Post{}
	for rows.Next() {
		var p model.Post
		if err := rows.Scan(&p.ID, &p.ProductID, &p.PlaceID, &p.ImageFileName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan post row")
		}
		posts = append(posts, p)
	}
	return posts, eris.Wrap(rows.Err(), "sqlite: iterate post rows")
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
