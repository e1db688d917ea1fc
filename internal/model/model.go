package model

// Place is a named physical location where a product sighting occurred.
// Name is the unique resolution key; Type is a free-text category
// (supermarket, café, shop). The Posts that reference a place are a
// derived view obtained through store queries, never a field here.
type Place struct {
	ID        int64   `json:"Id"`
	Name      string  `json:"Name"`
	Type      string  `json:"Type,omitempty"`
	Latitude  float64 `json:"Latitude"`
	Longitude float64 `json:"Longitude"`

	// DistanceKM is set only on results of a nearby query.
	DistanceKM float64 `json:"DistanceKm,omitempty"`
}

// Product is a named item that can be sighted at places. Name is the
// unique resolution key and the substring key for wildcard search.
type Product struct {
	ID   int64  `json:"Id"`
	Name string `json:"Name"`
}

// Post links one Product to one Place, optionally with a photo
// reference. Posts are append-only; they are never updated or deleted.
type Post struct {
	ID            int64  `json:"Id"`
	ProductID     int64  `json:"ProductId"`
	PlaceID       int64  `json:"PlaceId"`
	ImageFileName string `json:"ImageFileName,omitempty"`
}

// GeoResult is the request-scoped outcome of extracting GPS metadata
// from an uploaded image. FileName is the generated asset name the
// caller hands to the image store; nothing here is persisted.
type GeoResult struct {
	FileName  string  `json:"FileName"`
	Latitude  float64 `json:"Latitude"`
	Longitude float64 `json:"Longitude"`
}

// SearchResult is one row of a product search response.
type SearchResult struct {
	PlaceName   string  `json:"PlaceName"`
	ProductName string  `json:"ProductName"`
	Latitude    float64 `json:"Latitude"`
	Longitude   float64 `json:"Longitude"`
	ImageHref   string  `json:"ImageHref"`
}
