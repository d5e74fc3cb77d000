// Package schema reflects JSON Schemas from Go types and validates decoded
// documents against them.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	ijs "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Reflect builds the schema of v's type. Properties follow the json tags,
// fields without omitempty are required and unknown properties are
// rejected.
func Reflect(v any) *ijs.Schema {
	r := &ijs.Reflector{DoNotReference: true}
	return r.Reflect(v)
}

// Validator validates documents against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the schema reflected from v's type.
func NewValidator(v any) (*Validator, error) {
	return Compile(Reflect(v))
}

// Compile compiles a reflected schema.
func Compile(s *ijs.Schema) (*Validator, error) {
	// Round-trip through JSON so the compiler sees plain decoded values.
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks a document decoded by encoding/json. It returns one
// message per failure, sorted, or nil when the document is valid.
func (v *Validator) Validate(value any) []string {
	err := v.schema.Validate(value)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}

	byPath := make(map[string][]string)
	collectErrors(verr, byPath)

	var out []string
	for path, msgs := range byPath {
		seen := make(map[string]bool, len(msgs))
		for _, msg := range msgs {
			if seen[msg] {
				continue
			}
			seen[msg] = true
			if path != "" {
				out = append(out, path+": "+msg)
			} else {
				out = append(out, msg)
			}
		}
	}
	sort.Strings(out)
	return out
}

// ValidateJSON decodes data and validates it.
func (v *Validator) ValidateJSON(data []byte) ([]string, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v.Validate(value), nil
}

var printer = message.NewPrinter(language.English)

// collectErrors gathers the leaf failures of err keyed by instance path.
func collectErrors(err *jsonschema.ValidationError, byPath map[string][]string) {
	path := ""
	if len(err.InstanceLocation) > 0 {
		path = "/" + strings.Join(err.InstanceLocation, "/")
	}
	if err.ErrorKind != nil && len(err.Causes) == 0 {
		msg := err.ErrorKind.LocalizedString(printer)
		// Reference hops carry no information of their own.
		if !strings.HasPrefix(msg, "$ref ") && !strings.HasPrefix(msg, "doesn't validate with") {
			byPath[path] = append(byPath[path], msg)
		}
	}
	for _, cause := range err.Causes {
		collectErrors(cause, byPath)
	}
}
