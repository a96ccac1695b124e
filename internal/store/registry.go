package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// ModelSchemaVersion is the version written with every saved model
const ModelSchemaVersion = "1.1.0"

const modelKeyPrefix = "adaptive:model:"

// ErrIncompatibleModel is returned for a model saved with another major
// schema version
var ErrIncompatibleModel = errors.New("incompatible model schema")

// ModelRecord is the stored form of a symbol's best parameters
type ModelRecord struct {
	SchemaVersion string                 `json:"schema_version"`
	Symbol        string                 `json:"symbol"`
	Params        optimizer.ParameterSet `json:"params"`
	Score         float64                `json:"score"`
	Stats         backtest.Stats         `json:"stats"`
	OptimizedAt   time.Time              `json:"optimized_at"`
	SavedAt       time.Time              `json:"saved_at"`
}

// ModelRegistry keeps the best parameters per symbol in Redis
type ModelRegistry struct {
	client  *redis.Client
	current *semver.Version
}

// NewModelRegistry creates a registry on client
func NewModelRegistry(client *redis.Client) *ModelRegistry {
	return &ModelRegistry{
		client:  client,
		current: semver.MustParse(ModelSchemaVersion),
	}
}

// Save stores the optimum of entry.Symbol, replacing any previous model
func (m *ModelRegistry) Save(ctx context.Context, entry optimizer.CandidateScore) error {
	record := ModelRecord{
		SchemaVersion: ModelSchemaVersion,
		Symbol:        entry.Symbol,
		Params:        entry.Params,
		Score:         entry.Score,
		Stats:         entry.Stats,
		OptimizedAt:   entry.At,
		SavedAt:       time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := m.client.Set(ctx, modelKeyPrefix+entry.Symbol, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save model for %s: %w", entry.Symbol, err)
	}

	log.Debug().
		Str("symbol", entry.Symbol).
		Str("params", entry.Params.Key()).
		Msg("Model saved")
	return nil
}

// Load returns the stored optimum of symbol. A missing model yields false and
// no error.
func (m *ModelRegistry) Load(ctx context.Context, symbol string) (optimizer.CandidateScore, bool, error) {
	data, err := m.client.Get(ctx, modelKeyPrefix+symbol).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return optimizer.CandidateScore{}, false, nil
		}
		return optimizer.CandidateScore{}, false, fmt.Errorf("failed to load model for %s: %w", symbol, err)
	}

	entry, err := m.decode(data)
	if err != nil {
		return optimizer.CandidateScore{}, false, fmt.Errorf("model for %s: %w", symbol, err)
	}
	return entry, true, nil
}

// LoadAll returns every compatible stored model. Incompatible or corrupt
// entries are skipped with a warning.
func (m *ModelRegistry) LoadAll(ctx context.Context) ([]optimizer.CandidateScore, error) {
	var entries []optimizer.CandidateScore

	iter := m.client.Scan(ctx, 0, modelKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}

		entry, err := m.decode(data)
		if err != nil {
			log.Warn().
				Err(err).
				Str("symbol", strings.TrimPrefix(key, modelKeyPrefix)).
				Msg("Skipping stored model")
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("model scan error: %w", err)
	}
	return entries, nil
}

// Delete removes the model of symbol
func (m *ModelRegistry) Delete(ctx context.Context, symbol string) error {
	if err := m.client.Del(ctx, modelKeyPrefix+symbol).Err(); err != nil {
		return fmt.Errorf("failed to delete model for %s: %w", symbol, err)
	}
	return nil
}

func (m *ModelRegistry) decode(data []byte) (optimizer.CandidateScore, error) {
	var record ModelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return optimizer.CandidateScore{}, fmt.Errorf("failed to unmarshal model: %w", err)
	}

	if err := m.checkVersion(record.SchemaVersion); err != nil {
		return optimizer.CandidateScore{}, err
	}

	return optimizer.CandidateScore{
		Symbol: record.Symbol,
		Params: record.Params,
		Score:  record.Score,
		Stats:  record.Stats,
		At:     record.OptimizedAt,
	}, nil
}

// checkVersion accepts any version with the current major
func (m *ModelRegistry) checkVersion(raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid version %q", ErrIncompatibleModel, raw)
	}
	if v.Major() != m.current.Major() {
		return fmt.Errorf("%w: version %s, supported %d.x", ErrIncompatibleModel, v, m.current.Major())
	}
	if v.GreaterThan(m.current) {
		log.Debug().
			Str("stored", v.String()).
			Str("current", m.current.String()).
			Msg("Model written by a newer minor schema")
	}
	return nil
}
