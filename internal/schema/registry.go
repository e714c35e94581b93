package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// Kind identifies a speech-to-text provider.
type Kind string

const (
	KindDeepgram  Kind = "deepgram"
	KindMicrosoft Kind = "microsoft"
)

// commonFields exist in every provider schema. Explicit user overrides of
// these survive a provider switch when the new schema also defines them.
var commonFields = []string{"base_url", "language", "interim_results", "profanity_filter"}

// Provider is one provider's default configuration schema. Field values
// are strings or bools; Fields preserves the documented parameter order,
// which the connection preview relies on.
type Provider struct {
	Kind         Kind
	Fields       []string
	Defaults     map[string]any
	PricePerHour float64
}

func (p Provider) HasField(name string) bool {
	_, ok := p.Defaults[name]
	return ok
}

func (p Provider) IsBoolField(name string) bool {
	_, ok := p.Defaults[name].(bool)
	return ok
}

// CloneDefaults returns a fresh mutable copy of the default mapping.
func (p Provider) CloneDefaults() map[string]any {
	out := make(map[string]any, len(p.Defaults))
	for k, v := range p.Defaults {
		out[k] = v
	}
	return out
}

func IsCommonField(name string) bool {
	return slices.Contains(commonFields, name)
}

// Registry holds the provider schemas. It is loaded once at startup and
// never mutated afterwards; Get hands out value copies only.
type Registry struct {
	providers map[Kind]Provider
	order     []Kind
}

// Builtin returns the compiled-in schema registry.
func Builtin() *Registry {
	deepgram := Provider{
		Kind: KindDeepgram,
		Fields: []string{
			"base_url", "language", "model", "utterance_end_ms", "endpointing",
			"smart_format", "interim_results", "no_delay", "dictation",
			"numerals", "profanity_filter", "redact",
		},
		Defaults: map[string]any{
			"base_url":         "api.deepgram.com",
			"language":         "en",
			"model":            "nova-3",
			"utterance_end_ms": "1000",
			"endpointing":      "10",
			"smart_format":     false,
			"interim_results":  true,
			"no_delay":         false,
			"dictation":        false,
			"numerals":         false,
			"profanity_filter": false,
			"redact":           false,
		},
		PricePerHour: 0.46,
	}

	microsoft := Provider{
		Kind: KindMicrosoft,
		Fields: []string{
			"base_url", "language", "recognition_mode", "output_format",
			"interim_results", "profanity_filter",
		},
		Defaults: map[string]any{
			"base_url":         "eastus.stt.speech.microsoft.com",
			"language":         "en-US",
			"recognition_mode": "conversation",
			"output_format":    "detailed",
			"interim_results":  true,
			"profanity_filter": false,
		},
		PricePerHour: 1.10,
	}

	return &Registry{
		providers: map[Kind]Provider{
			KindDeepgram:  deepgram,
			KindMicrosoft: microsoft,
		},
		order: []Kind{KindDeepgram, KindMicrosoft},
	}
}

// Load builds the registry from the builtin schemas overlaid with the
// JSON file at path, if it exists. The file maps provider name to a flat
// field mapping, matching the layout of config/defaults.json in the
// reference deployments:
//
//	{"deepgram": {"model": "nova-2", "price_per_hour": 0.36}}
//
// Unknown providers in the file are rejected; unknown fields are appended
// to the provider's field order.
func Load(path string) (*Registry, error) {
	reg := Builtin()
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var file map[string]map[string]any
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}

	for name, fields := range file {
		kind := Kind(name)
		p, ok := reg.providers[kind]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q in schema file", name)
		}
		for field, value := range fields {
			switch field {
			case "price_per_hour":
				if f, ok := value.(float64); ok {
					p.PricePerHour = f
				}
			case "extra":
				// Extras start empty per session; the schema carries none.
			default:
				if !p.HasField(field) {
					p.Fields = append(p.Fields, field)
				}
				p.Defaults[field] = value
			}
		}
		reg.providers[kind] = p
	}

	return reg, nil
}

// Get returns the schema for kind.
func (r *Registry) Get(kind Kind) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}

// DefaultKind is the first configured provider; new sessions start here.
func (r *Registry) DefaultKind() Kind {
	return r.order[0]
}

func (r *Registry) Kinds() []Kind {
	return slices.Clone(r.order)
}
