package product

import "time"

// Product is a listing as returned by the products endpoints.
type Product struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Images      []Image   `json:"images"`
	Location    *Location `json:"location,omitempty"`
	User        Seller    `json:"user"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Image struct {
	URL string `json:"url"`
	ID  string `json:"_id"`
}

// Location tags a listing with a named coordinate.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Seller is a weak reference to the listing owner.
type Seller struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
}

// ProductInput is the payload for creating or updating a listing.
type ProductInput struct {
	Title       string        `json:"title" validate:"required"`
	Description string        `json:"description"`
	Price       float64       `json:"price" validate:"gte=0"`
	Location    *Location     `json:"location,omitempty"`
	Images      []ImageUpload `json:"images" validate:"dive"`
}

// ImageUpload is one image file sent with a create or update.
type ImageUpload struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content" validate:"required"`
}
