package format

import "fmt"

// Kind describes how the output of a format should be interpreted
// and delivered to the client.
type Kind int

const (
	JSON Kind = iota
	XML
	TEXT
)

func (e Kind) Values() []string {
	return []string{"JSON", "XML", "TEXT"}
}

func (e Kind) String() string {
	return e.Values()[e]
}

// OutputFormat is a single entry in the Registry, mapping the public
// name a client asks for to the value handed to mediainfo via --Output.
type OutputFormat struct {
	Name      string `json:"name"`
	WireValue string `json:"value"`
	Kind      Kind   `json:"-"`
}

func (f OutputFormat) String() string {
	return fmt.Sprintf("OutputFormat{name=%s value=%s kind=%s}", f.Name, f.WireValue, f.Kind)
}

// Registry is an immutable, ordered table of output formats.
type Registry struct {
	formats []OutputFormat
}

// Default returns the registry of every output format mediainfo is
// known to support.
func Default() *Registry {
	r, err := NewRegistry([]OutputFormat{
		{Name: "HTML", WireValue: "HTML", Kind: TEXT},
		{Name: "XML", WireValue: "XML", Kind: XML},
		{Name: "OLDXML", WireValue: "OLDXML", Kind: XML},
		{Name: "JSON", WireValue: "JSON", Kind: JSON},
		{Name: "EBUCore", WireValue: "EBUCore", Kind: XML},
		{Name: "EBUCore_JSON", WireValue: "EBUCore_JSON", Kind: JSON},
		{Name: "PBCore", WireValue: "PBCore", Kind: XML},
		{Name: "PBCore2", WireValue: "PBCore2", Kind: XML},
	})
	if err != nil {
		panic(fmt.Sprintf("default output format table is invalid: %s", err))
	}

	return r
}

// NewRegistry constructs a registry from the formats provided. Names
// must be non-empty and unique.
func NewRegistry(formats []OutputFormat) (*Registry, error) {
	seen := make(map[string]struct{}, len(formats))
	for _, f := range formats {
		if f.Name == "" || f.WireValue == "" {
			return nil, fmt.Errorf("output format %v must have both a name and a value", f)
		}
		if _, ok := seen[f.Name]; ok {
			return nil, fmt.Errorf("output format name %q is declared more than once", f.Name)
		}

		seen[f.Name] = struct{}{}
	}

	return &Registry{formats: append([]OutputFormat(nil), formats...)}, nil
}

// Lookup finds the format with exactly the name provided (case-sensitive).
func (r *Registry) Lookup(name string) (OutputFormat, bool) {
	for _, f := range r.formats {
		if f.Name == name {
			return f, true
		}
	}

	return OutputFormat{}, false
}

// All returns a copy of every format in the registry, in declaration order.
func (r *Registry) All() []OutputFormat {
	return append([]OutputFormat(nil), r.formats...)
}

// Names returns the names of every format, in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.formats))
	for i, f := range r.formats {
		names[i] = f.Name
	}

	return names
}
