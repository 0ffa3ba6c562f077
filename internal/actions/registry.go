package actions

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Registry maps action IDs to descriptors. Register-then-freeze: all
// registration happens at startup, then Freeze() makes the registry
// immutable for the life of the process.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Descriptor
	frozen  bool
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]*Descriptor),
		logger: logger,
	}
}

// Register adds an action. Registering the same ID twice logs a warning
// and the later registration wins. Registering after Freeze is an error.
func (r *Registry) Register(desc Descriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("actions: descriptor without ID")
	}
	if !desc.MediaType.IsValid() {
		return fmt.Errorf("actions: %s: invalid media type %q", desc.ID, desc.MediaType)
	}
	if !desc.Category.IsValid() {
		return fmt.Errorf("actions: %s: invalid category %q", desc.ID, desc.Category)
	}
	if desc.Execute == nil {
		return fmt.Errorf("actions: %s: missing executor", desc.ID)
	}

	if len(desc.InputSchema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(desc.InputSchema))
		if err != nil {
			return fmt.Errorf("actions: %s: invalid input schema: %w", desc.ID, err)
		}
		desc.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("actions: registry frozen, cannot register %s", desc.ID)
	}
	if _, exists := r.byID[desc.ID]; exists {
		r.logger.Warn().
			Str("action_id", desc.ID).
			Msg("action registered twice, later registration wins")
	}
	r.byID[desc.ID] = &desc
	return nil
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	r.logger.Info().Int("actions", len(r.byID)).Msg("action registry frozen")
}

// Get returns the descriptor for id, or an ACTION_NOT_FOUND error.
func (r *Registry) Get(id string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.byID[id]
	if !ok {
		return nil, fault.New(fault.CodeActionNotFound, "action %q is not registered", id)
	}
	return desc, nil
}

// List returns all descriptors sorted by ID. Used by the ops surface.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate checks params against the action's input schema. It is a
// pure function; a nil params map validates as an empty object.
func (d *Descriptor) Validate(params map[string]any) error {
	if d.compiled == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	result, err := d.compiled.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fault.Wrap(fault.CodeValidation, err, "parameter validation failed for %s", d.ID)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return fault.Validation("invalid parameters for %s: %s", d.ID, strings.Join(msgs, "; "))
}
