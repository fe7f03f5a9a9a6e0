package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"nithronos/poolwizard/internal/kvstore"
)

// StateKey is the store key holding the wizard snapshot.
const StateKey = "nos.poolWizard.state"

const snapshotSchema = `{
  "type": "object",
  "required": ["currentStep", "selectedDataDisks"],
  "properties": {
    "currentStep": {"type": "integer"},
    "selectedDataDisks": {"type": "array", "items": {"type": "string"}},
    "selectedParityDisk": {"type": ["string", "null"]},
    "selectedCacheDisk": {"type": ["string", "null"]}
  }
}`

var compiledSchema *gojsonschema.Schema

func init() {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(snapshotSchema))
	if err != nil {
		panic(err)
	}
	compiledSchema = s
}

// Persister saves and restores the wizard snapshot.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Clear(ctx context.Context) error
}

// Persistence keeps the snapshot under StateKey in a kvstore.Store.
type Persistence struct {
	store  kvstore.Store
	key    string
	logger zerolog.Logger
}

func NewPersistence(store kvstore.Store, logger zerolog.Logger) *Persistence {
	return &Persistence{
		store:  store,
		key:    StateKey,
		logger: logger.With().Str("component", "wizard-persistence").Logger(),
	}
}

// Save overwrites the stored snapshot wholesale.
func (p *Persistence) Save(ctx context.Context, snap Snapshot) error {
	if snap.SelectedDataDisks == nil {
		snap.SelectedDataDisks = []string{}
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := p.store.Put(ctx, p.key, b); err != nil {
		return fmt.Errorf("save wizard state: %w", err)
	}
	return nil
}

// Load returns nil when nothing usable is stored. Corrupt or schema-invalid
// content counts as absent; only store read failures return an error.
func (p *Persistence) Load(ctx context.Context) (*Snapshot, error) {
	b, err := p.store.Get(ctx, p.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wizard state: %w", err)
	}
	res, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		p.logger.Warn().Err(err).Msg("stored wizard state is not json; ignoring")
		return nil, nil
	}
	if !res.Valid() {
		var problems []string
		for _, e := range res.Errors() {
			problems = append(problems, e.String())
		}
		p.logger.Warn().Strs("errors", problems).Msg("stored wizard state has unexpected layout; ignoring")
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		p.logger.Warn().Err(err).Msg("stored wizard state unreadable; ignoring")
		return nil, nil
	}
	return &snap, nil
}

func (p *Persistence) Clear(ctx context.Context) error {
	if err := p.store.Delete(ctx, p.key); err != nil {
		return fmt.Errorf("clear wizard state: %w", err)
	}
	return nil
}
