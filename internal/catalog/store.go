package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/raevmood/devicefinder/internal/db"
	"github.com/raevmood/devicefinder/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultK = 5
	// sqliteCandidateLimit bounds how many filtered rows are ranked in Go.
	sqliteCandidateLimit = 2000
)

var (
	errNilStore = errors.New("catalog: store not configured")

	// deviceNamespace seeds deterministic device IDs.
	deviceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("devicefinder/devices"))
)

// Query selects catalog entries similar to Text. Empty filters match all.
type Query struct {
	Text     string
	Category string
	Location string
	// PriceMax excludes entries listed above it when positive.
	PriceMax float64
	K        int
}

// Hit is one ranked catalog entry.
type Hit struct {
	Device models.Device
	Score  float64
}

// Store persists devices and answers similarity queries.
type Store struct {
	db       *gorm.DB
	embedder Embedder
	nowFn    func() time.Time
}

// NewStore constructs a Store; a nil embedder selects HashEmbedder.
func NewStore(conn *gorm.DB, embedder Embedder) *Store {
	if embedder == nil {
		embedder = NewHashEmbedder(models.EmbeddingDimensions)
	}
	return &Store{db: conn, embedder: embedder, nowFn: time.Now}
}

// DeviceID derives the stable identifier of a listing.
func DeviceID(category, location, name, url string) string {
	key := strings.ToLower(strings.Join([]string{
		strings.TrimSpace(category),
		strings.TrimSpace(location),
		strings.TrimSpace(name),
		strings.TrimSpace(url),
	}, "|"))
	return uuid.NewSHA1(deviceNamespace, []byte(key)).String()
}

// Document is the text embedded for a device.
func Document(device models.Device) string {
	parts := []string{device.Name, device.Brand, device.Category, device.Snippet}
	if len(device.Specs) > 0 && string(device.Specs) != "null" {
		parts = append(parts, string(device.Specs))
	}
	return strings.Join(parts, " ")
}

// Query returns up to K entries ranked by cosine similarity to q.Text.
func (s *Store) Query(ctx context.Context, q Query) ([]Hit, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	vec, errEmbed := s.embedder.Embed(ctx, q.Text)
	if errEmbed != nil {
		return nil, fmt.Errorf("catalog: embed query: %w", errEmbed)
	}

	tx := s.filtered(ctx, q)
	var devices []models.Device
	if db.IsPostgres(s.db) {
		tx = tx.Clauses(clause.OrderBy{
			Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []any{pgvector.NewVector(vec)}},
		}).Limit(q.K)
	} else {
		tx = tx.Order("indexed_at DESC").Limit(sqliteCandidateLimit)
	}
	if errFind := tx.Find(&devices).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: query devices: %w", errFind)
	}

	hits := make([]Hit, 0, len(devices))
	for _, device := range devices {
		hits = append(hits, Hit{Device: device, Score: Cosine(vec, device.Embedding.Slice())})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

func (s *Store) filtered(ctx context.Context, q Query) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&models.Device{})
	if category := strings.TrimSpace(q.Category); category != "" {
		tx = tx.Where("category = ?", category)
	}
	if location := strings.TrimSpace(q.Location); location != "" {
		tx = tx.Where(db.CaseInsensitiveEqualExpr("location"), location)
	}
	if q.PriceMax > 0 {
		tx = tx.Where("price <= ?", q.PriceMax)
	}
	return tx
}

// Upsert embeds and stores devices, stamping them with seenAt. Rows are
// keyed by ID; an empty ID is derived with DeviceID.
func (s *Store) Upsert(ctx context.Context, devices []models.Device, seenAt time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNilStore
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(devices) == 0 {
		return 0, nil
	}
	if seenAt.IsZero() {
		seenAt = s.nowFn()
	}
	seenAt = seenAt.UTC()

	byID := make(map[string]int, len(devices))
	rows := make([]models.Device, 0, len(devices))
	for _, device := range devices {
		if device.ID == "" {
			device.ID = DeviceID(device.Category, device.Location, device.Name, device.URL)
		}
		vec, errEmbed := s.embedder.Embed(ctx, Document(device))
		if errEmbed != nil {
			return 0, fmt.Errorf("catalog: embed %s: %w", device.ID, errEmbed)
		}
		device.Embedding = pgvector.NewVector(vec)
		device.IndexedAt = seenAt
		device.UpdatedAt = seenAt
		if idx, ok := byID[device.ID]; ok {
			rows[idx] = device
			continue
		}
		byID[device.ID] = len(rows)
		rows = append(rows, device)
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"brand",
				"price",
				"vendor",
				"snippet",
				"specs",
				"embedding",
				"indexed_at",
				"updated_at",
			}),
		}).CreateInBatches(&rows, 100).Error
	})
	if errTx != nil {
		return 0, fmt.Errorf("catalog: upsert devices: %w", errTx)
	}
	return len(rows), nil
}

// Prune deletes entries of category last indexed before cutoff.
func (s *Store) Prune(ctx context.Context, category string, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilStore
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res := s.db.WithContext(ctx).
		Where("category = ? AND indexed_at < ?", category, cutoff.UTC()).
		Delete(&models.Device{})
	if res.Error != nil {
		return 0, fmt.Errorf("catalog: prune %s: %w", category, res.Error)
	}
	return res.RowsAffected, nil
}

// Count returns the number of entries in category, or all entries when
// category is empty.
func (s *Store) Count(ctx context.Context, category string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilStore
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx := s.db.WithContext(ctx).Model(&models.Device{})
	if category != "" {
		tx = tx.Where("category = ?", category)
	}
	var n int64
	if errCount := tx.Count(&n).Error; errCount != nil {
		return 0, fmt.Errorf("catalog: count: %w", errCount)
	}
	return n, nil
}
