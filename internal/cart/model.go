package cart

import (
	"time"

	product "github.com/angelmondragon/packfinderz-storefront/internal/products"
)

// Item is one cart line. Product is a copy taken when the line was created.
type Item struct {
	ID       string          `json:"id"`
	Product  product.Product `json:"product"`
	Quantity int             `json:"quantity"`
	AddedAt  time.Time       `json:"addedAt"`
}

// Summary is the read-only digest returned by GetCartSummary.
type Summary struct {
	ItemCount        int     `json:"itemCount"`
	TotalQuantity    int     `json:"totalQuantity"`
	TotalPrice       float64 `json:"totalPrice"`
	AverageItemPrice float64 `json:"averageItemPrice"`
}

// Snapshot is the persisted subset of the cart.
type Snapshot struct {
	Items      []Item  `json:"items"`
	TotalItems int     `json:"totalItems"`
	TotalPrice float64 `json:"totalPrice"`
}
