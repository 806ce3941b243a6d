package serialization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glimte/databridge-go/contracts"
)

// ErrInvalidDocument is returned when a definition document cannot be decoded
var ErrInvalidDocument = errors.New("serialization: invalid definition document")

// DefinitionConverter converts stream definitions to and from a textual document
type DefinitionConverter interface {
	// Marshal renders a definition as a document
	Marshal(def *contracts.StreamDefinition) ([]byte, error)

	// Unmarshal parses and validates a single definition
	Unmarshal(data []byte) (*contracts.StreamDefinition, error)

	// UnmarshalList parses a list of definitions
	UnmarshalList(data []byte) ([]*contracts.StreamDefinition, error)

	// ContentType returns the media type of the documents
	ContentType() string
}

// definitionDocument is the JSON shape of a stream definition.
// StreamID is accepted on input for compatibility and never trusted.
type definitionDocument struct {
	StreamID        string                `json:"streamId,omitempty"`
	Name            string                `json:"name"`
	Version         string                `json:"version,omitempty"`
	NickName        string                `json:"nickName,omitempty"`
	Description     string                `json:"description,omitempty"`
	Tags            []string              `json:"tags,omitempty"`
	MetaData        []attributeDocument `json:"metaData,omitempty"`
	CorrelationData []attributeDocument `json:"correlationData,omitempty"`
	PayloadData     []attributeDocument `json:"payloadData,omitempty"`
}

// attributeDocument is the JSON shape of an attribute. Type is a pointer so a
// missing type is reported instead of decoding as the zero type.
type attributeDocument struct {
	Name string                   `json:"name"`
	Type *contracts.AttributeType `json:"type"`
}

func toAttributeDocuments(attrs []contracts.Attribute) []attributeDocument {
	if attrs == nil {
		return nil
	}
	docs := make([]attributeDocument, len(attrs))
	for i := range attrs {
		docs[i] = attributeDocument{Name: attrs[i].Name, Type: &attrs[i].Type}
	}
	return docs
}

func fromAttributeDocuments(group contracts.AttributeGroup, docs []attributeDocument) ([]contracts.Attribute, error) {
	if docs == nil {
		return nil, nil
	}
	attrs := make([]contracts.Attribute, len(docs))
	for i, d := range docs {
		if d.Type == nil {
			return nil, fmt.Errorf("%w: %s[%d] %q has no type", ErrInvalidDocument, group, i, d.Name)
		}
		attrs[i] = contracts.NewAttribute(d.Name, *d.Type)
	}
	return attrs, nil
}

// JSONConverter implements DefinitionConverter with JSON documents
type JSONConverter struct {
	indent        string
	includeStream bool
}

// ConverterOption configures the JSON converter
type ConverterOption func(*JSONConverter)

// WithIndent pretty prints documents using the given indent
func WithIndent(indent string) ConverterOption {
	return func(c *JSONConverter) {
		c.indent = indent
	}
}

// WithStreamID includes the derived stream id in rendered documents
func WithStreamID(enabled bool) ConverterOption {
	return func(c *JSONConverter) {
		c.includeStream = enabled
	}
}

// NewJSONConverter creates a new JSON converter
func NewJSONConverter(options ...ConverterOption) *JSONConverter {
	c := &JSONConverter{}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// ContentType returns application/json
func (c *JSONConverter) ContentType() string {
	return "application/json"
}

// Marshal renders a definition as JSON
func (c *JSONConverter) Marshal(def *contracts.StreamDefinition) ([]byte, error) {
	if def == nil {
		return nil, fmt.Errorf("definition cannot be nil")
	}

	doc := definitionDocument{
		Name:            def.GetName(),
		Version:         def.GetVersion(),
		NickName:        def.GetNickName(),
		Description:     def.GetDescription(),
		Tags:            def.GetTags(),
		MetaData:        toAttributeDocuments(def.GetMetaData()),
		CorrelationData: toAttributeDocuments(def.GetCorrelationData()),
		PayloadData:     toAttributeDocuments(def.GetPayloadData()),
	}
	if c.includeStream {
		doc.StreamID = def.GetStreamID()
	}

	if c.indent != "" {
		return json.MarshalIndent(doc, "", c.indent)
	}
	return json.Marshal(doc)
}

// Unmarshal parses a JSON definition and validates its name and version.
// A missing version defaults to 1.0.0.
func (c *JSONConverter) Unmarshal(data []byte) (*contracts.StreamDefinition, error) {
	var doc definitionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc.toDefinition()
}

// UnmarshalList parses either a JSON array of definitions or a single definition object.
// It fails on the first malformed definition.
func (c *JSONConverter) UnmarshalList(data []byte) ([]*contracts.StreamDefinition, error) {
	if isObject(data) {
		def, err := c.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		return []*contracts.StreamDefinition{def}, nil
	}

	defs := []*contracts.StreamDefinition{}
	var firstErr error
	err := c.UnmarshalEach(data, func(index int, def *contracts.StreamDefinition, err error) {
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("definition %d: %w", index, err)
			}
			return
		}
		defs = append(defs, def)
	})
	if err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return defs, nil
}

// UnmarshalEach parses a JSON array of definitions, or a single definition object,
// and calls fn for every entry with either the definition or the reason it is
// malformed. It returns an error only when the input is not an object or array.
func (c *JSONConverter) UnmarshalEach(data []byte, fn func(index int, def *contracts.StreamDefinition, err error)) error {
	if isObject(data) {
		def, err := c.Unmarshal(data)
		fn(0, def, err)
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	for i, entry := range entries {
		def, err := c.Unmarshal(entry)
		fn(i, def, err)
	}
	return nil
}

func isObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func (d definitionDocument) toDefinition() (*contracts.StreamDefinition, error) {
	version := d.Version
	if version == "" {
		version = contracts.DefaultStreamVersion
	}

	def, err := contracts.NewStreamDefinition(d.Name, version)
	if err != nil {
		return nil, err
	}

	def.SetNickName(d.NickName)
	def.SetDescription(d.Description)
	def.SetTags(d.Tags)

	groups := []struct {
		group contracts.AttributeGroup
		docs  []attributeDocument
		set   func([]contracts.Attribute)
	}{
		{contracts.MetaDataGroup, d.MetaData, def.SetMetaData},
		{contracts.CorrelationDataGroup, d.CorrelationData, def.SetCorrelationData},
		{contracts.PayloadDataGroup, d.PayloadData, def.SetPayloadData},
	}
	for _, g := range groups {
		attrs, err := fromAttributeDocuments(g.group, g.docs)
		if err != nil {
			return nil, err
		}
		g.set(attrs)
	}
	return def, nil
}

var defaultConverter = NewJSONConverter()

func init() {
	contracts.RegisterDocumentFormat(ToJSON)
}

// ToJSON renders a definition as a compact JSON document
func ToJSON(def *contracts.StreamDefinition) (string, error) {
	data, err := defaultConverter.Marshal(def)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON parses a single JSON definition
func FromJSON(doc string) (*contracts.StreamDefinition, error) {
	return defaultConverter.Unmarshal([]byte(doc))
}

// FromJSONList parses a JSON array of definitions
func FromJSONList(doc string) ([]*contracts.StreamDefinition, error) {
	return defaultConverter.UnmarshalList([]byte(doc))
}
