// Package menu answers service-menu questions with a pgvector similarity
// search over the grooming price list.
package menu

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
)

// Config is loaded with the MENU prefix. An empty DSN reuses the reservation
// database.
type Config struct {
	EmbeddingModel   string        `envconfig:"EMBEDDING_MODEL" split_words:"true" default:"text-embedding-3-small"`
	EmbeddingBaseURL string        `envconfig:"EMBEDDING_BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	EmbeddingAPIKey  string        `envconfig:"EMBEDDING_API_KEY" split_words:"true"`
	DSN              string        `envconfig:"DSN"`
	Table            string        `envconfig:"TABLE" default:"service_menu"`
	MaxDistance      float64       `envconfig:"MAX_DISTANCE" split_words:"true" default:"0.5"`
	Timeout          time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

const searchQuery = `SELECT service_name, breed, weight_range, price, description, distance
FROM (
	SELECT service_name, breed, weight_range, price, description, embedding <=> ?::vector AS distance
	FROM ?
) AS m
WHERE distance <= ?
ORDER BY distance
LIMIT ?`

type match struct {
	ServiceName string  `bun:"service_name"`
	Breed       string  `bun:"breed,nullzero"`
	WeightRange int     `bun:"weight_range,nullzero"`
	Price       int     `bun:"price"`
	Description string  `bun:"description,nullzero"`
	Distance    float64 `bun:"distance"`
}

// PgVectorIndex ranks menu rows by cosine distance and drops everything past
// the relevance cut-off.
type PgVectorIndex struct {
	db          *bun.DB
	embedder    Embedder
	table       string
	maxDistance float64
	timeout     time.Duration
}

var _ contractx.ServiceIndex = (*PgVectorIndex)(nil)

func NewPgVectorIndex(db *bun.DB, embedder Embedder, cfg Config) (*PgVectorIndex, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: menu database is nil", contractx.ErrValidation)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: menu embedder is nil", contractx.ErrValidation)
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = "service_menu"
	}
	maxDistance := cfg.MaxDistance
	if maxDistance <= 0 {
		maxDistance = 0.5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PgVectorIndex{db: db, embedder: embedder, table: table, maxDistance: maxDistance, timeout: timeout}, nil
}

func (x *PgVectorIndex) Search(ctx context.Context, query string, limit int) ([]contractx.ServiceMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: menu query is empty", contractx.ErrValidation)
	}
	if limit <= 0 {
		limit = 3
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var rows []match
	if err := x.db.NewRaw(searchQuery, x.args(vec, limit)...).Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("search service menu: %w", err)
	}

	out := make([]contractx.ServiceMatch, 0, len(rows))
	for _, r := range rows {
		out = append(out, contractx.ServiceMatch{
			ServiceName: r.ServiceName,
			Breed:       r.Breed,
			WeightRange: r.WeightRange,
			Price:       r.Price,
			Description: r.Description,
			Distance:    r.Distance,
		})
	}
	return out, nil
}

func (x *PgVectorIndex) args(vec []float32, limit int) []any {
	return []any{vectorLiteral(vec), bun.Ident(x.table), x.maxDistance, limit}
}

// vectorLiteral renders the pgvector text form, e.g. [0.1,0.2].
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
