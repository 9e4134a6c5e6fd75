package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// EmbeddingDimensions is the width of Device.Embedding.
const EmbeddingDimensions = 256

// Device is one catalog entry indexed for semantic retrieval.
type Device struct {
	ID string `gorm:"type:text;primaryKey"` // Deterministic ID derived from category, location, name and URL.

	Category string  `gorm:"type:text;not null;index"` // Device category key.
	Location string  `gorm:"type:text;index"`          // Market the listing was found for.
	Name     string  `gorm:"type:text;not null"`       // Product name.
	Brand    string  `gorm:"type:text"`                // Brand name.
	Price    float64 `gorm:"not null;default:0"`       // Listed price, 0 when unknown.
	Vendor   string  `gorm:"type:text"`                // Seller or site name.
	URL      string  `gorm:"type:text"`                // Listing URL.
	Snippet  string  `gorm:"type:text"`                // Search snippet.

	Specs     datatypes.JSON  // Extracted specification map.
	Embedding pgvector.Vector `gorm:"type:vector(256)"` // Semantic embedding.

	IndexedAt time.Time `gorm:"not null;index"`          // Last ingestion run that saw this entry.
	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
