package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/listenlab/multiscribe/internal/schema"
	"github.com/listenlab/multiscribe/internal/shared"
)

// Resolve builds a session configuration from a provider schema, explicit
// user overrides, and free-form extra parameters. Overrides replace
// defaults field-by-field; boolean fields are true only for the literal
// true or the string "true". Override keys the schema does not name are
// folded into the extra mapping. Extra is applied last, so it wins any
// collision with a named field; non-colliding extras nest under "extra".
func Resolve(p schema.Provider, overrides, extra map[string]any) map[string]any {
	out := p.CloneDefaults()

	merged := make(map[string]any, len(extra))
	for k, v := range overrides {
		if !p.HasField(k) {
			merged[k] = v
			continue
		}
		if p.IsBoolField(k) {
			out[k] = ParseBool(v)
		} else {
			out[k] = v
		}
	}
	for k, v := range extra {
		merged[k] = v
	}

	nested := make(map[string]any)
	for k, v := range merged {
		if _, named := out[k]; named {
			out[k] = v
			continue
		}
		nested[k] = v
	}
	if len(nested) > 0 {
		out["extra"] = nested
	}
	return out
}

func (r *Registry) with(id int, fn func(*Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return shared.ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return fn(sess)
}

// ApplyOverrides sets individual fields on the session, tracking each as
// explicitly changed. Keys outside the provider schema become extra
// parameters.
func (r *Registry) ApplyOverrides(id int, overrides map[string]any) error {
	return r.with(id, func(sess *Session) error {
		p, _ := r.schemas.Get(sess.Provider)
		for k, v := range overrides {
			if !p.HasField(k) {
				sess.Extra[k] = v
				sess.markChanged("extra")
				continue
			}
			if p.IsBoolField(k) {
				sess.Config[k] = ParseBool(v)
			} else {
				sess.Config[k] = v
			}
			sess.markChanged(k)
		}
		return nil
	})
}

// Reset restores the provider defaults and clears change tracking and
// import state.
func (r *Registry) Reset(id int) error {
	return r.with(id, func(sess *Session) error {
		p, _ := r.schemas.Get(sess.Provider)
		sess.Config = p.CloneDefaults()
		sess.Extra = make(map[string]any)
		sess.ChangedParams = make(map[string]struct{})
		sess.Imported = false
		return nil
	})
}

// SwitchProvider re-resolves the session against the new provider's
// schema. Provider-specific values from the old schema are discarded;
// explicit user overrides of common fields carry over when the new
// schema also defines the field.
func (r *Registry) SwitchProvider(id int, kind schema.Kind) error {
	return r.with(id, func(sess *Session) error {
		next, ok := r.schemas.Get(kind)
		if !ok {
			return fmt.Errorf("%w: provider %q", shared.ErrNotFound, kind)
		}
		if kind == sess.Provider {
			return nil
		}

		preserved := make(map[string]any)
		for field := range sess.ChangedParams {
			if schema.IsCommonField(field) && next.HasField(field) {
				preserved[field] = sess.Config[field]
			}
		}

		sess.Provider = kind
		sess.Config = next.CloneDefaults()
		sess.Extra = make(map[string]any)
		sess.ChangedParams = make(map[string]struct{})
		for field, value := range preserved {
			if next.IsBoolField(field) {
				sess.Config[field] = ParseBool(value)
			} else {
				sess.Config[field] = value
			}
			sess.markChanged(field)
		}
		return nil
	})
}

// Import replaces the session configuration from a JSON object or a
// connection URL. Fields absent from the input are cleared, not
// defaulted, except base_url which falls back to the schema default so
// the preview stays renderable.
func (r *Registry) Import(id int, input string) error {
	return r.with(id, func(sess *Session) error {
		imported, err := parseImport(input)
		if err != nil {
			return err
		}

		p, _ := r.schemas.Get(sess.Provider)

		config := make(map[string]any, len(p.Defaults))
		for field, def := range p.Defaults {
			if _, isBool := def.(bool); isBool {
				config[field] = false
			} else {
				config[field] = ""
			}
		}

		extra := make(map[string]any)
		changed := make(map[string]struct{})
		for k, v := range imported {
			if !p.HasField(k) {
				extra[k] = v
				changed["extra"] = struct{}{}
				continue
			}
			if p.IsBoolField(k) {
				config[k] = ParseBool(v)
			} else {
				config[k] = v
			}
			changed[k] = struct{}{}
		}

		if s, _ := config["base_url"].(string); s == "" {
			config["base_url"] = p.Defaults["base_url"]
		}

		sess.Config = config
		sess.Extra = extra
		sess.ChangedParams = changed
		sess.Imported = true
		return nil
	})
}

// parseImport tries JSON first, then the URL form.
func parseImport(input string) (map[string]any, error) {
	input = strings.TrimSpace(input)

	var obj map[string]any
	if err := json.Unmarshal([]byte(input), &obj); err == nil {
		return obj, nil
	}

	params, err := ParseConnectionURL(input)
	if err != nil {
		return nil, shared.ErrConfigFormat
	}
	return params, nil
}
