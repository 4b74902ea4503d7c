package models

import "time"

// Place is the rich record owned by the object store. The id is the key it
// is stored under and is not repeated inside the object.
type Place struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	CreatedAt   time.Time `json:"created_at"`
}

// Point is a WGS84 position.
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// PlaceIndexEntry is the summary row owned by the geo index.
type PlaceIndexEntry struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	OID       string    `json:"oid" gorm:"column:oid;type:varchar(64);uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"type:varchar(255);index;not null"`
	Location  string    `json:"-" gorm:"type:geography(POINT,4326);index:idx_place_index_location,type:gist;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	Position   Point   `json:"position" gorm:"-"`
	DistanceKm float64 `json:"distance_km" gorm:"-"`
}

// TableName keeps the table name stable across backends.
func (PlaceIndexEntry) TableName() string { return "place_index" }

// CreatePlaceInput carries the parsed fields of a create request. Lat and Lng
// are pointers so that a missing value can be told apart from zero.
type CreatePlaceInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
}

// CreatedPlace is returned by a successful create.
type CreatedPlace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NearbyQuery carries the parsed fields of a nearby request. A nil RadiusKm
// selects the configured default.
type NearbyQuery struct {
	Lat      *float64
	Lng      *float64
	RadiusKm *float64
}

// NearbyPlace is one enriched result of a nearby query.
type NearbyPlace struct {
	OID         string  `json:"oid"`
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description string  `json:"description"`
	DistanceKm  float64 `json:"-"`
}
