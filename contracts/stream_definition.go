package contracts

import (
	"hash/fnv"
	"regexp"
	"strings"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// AttributeGroup names one of the three attribute sections of a stream definition
type AttributeGroup string

const (
	MetaDataGroup        AttributeGroup = "metaData"
	CorrelationDataGroup AttributeGroup = "correlationData"
	PayloadDataGroup     AttributeGroup = "payloadData"
)

// AttributeGroups lists the groups in the order events carry them
var AttributeGroups = []AttributeGroup{MetaDataGroup, CorrelationDataGroup, PayloadDataGroup}

// ParseAttributeGroup maps a group key to its AttributeGroup
func ParseAttributeGroup(key string) (AttributeGroup, bool) {
	switch AttributeGroup(key) {
	case MetaDataGroup, CorrelationDataGroup, PayloadDataGroup:
		return AttributeGroup(key), true
	}
	return "", false
}

// StreamDefinition describes the schema of a versioned event stream.
//
// The stream id is always derived from the name and version. A definition is
// not safe for concurrent mutation; build it fully before sharing it.
type StreamDefinition struct {
	streamID    string
	name        string
	version     string
	nickName    string
	description string
	tags        []string

	metaData        []Attribute
	correlationData []Attribute
	payloadData     []Attribute
}

// NewStreamDefinition creates a validated stream definition
func NewStreamDefinition(name, version string) (*StreamDefinition, error) {
	if name == "" {
		return nil, &MalformedDefinitionError{Field: "name", Value: name, Reason: ReasonEmpty}
	}
	if strings.Contains(name, StreamIDSeparator) {
		return nil, &MalformedDefinitionError{Field: "name", Value: name, Reason: ReasonContainsSeparator}
	}
	if strings.Contains(version, StreamIDSeparator) {
		return nil, &MalformedDefinitionError{Field: "version", Value: version, Reason: ReasonContainsSeparator}
	}
	if !versionPattern.MatchString(version) {
		return nil, &MalformedDefinitionError{Field: "version", Value: version, Reason: ReasonBadVersionFormat}
	}

	d := &StreamDefinition{name: name, version: version}
	d.generateStreamID()
	return d, nil
}

// NewStreamDefinitionWithName creates a definition with the default version.
// The name is not validated.
func NewStreamDefinitionWithName(name string) *StreamDefinition {
	d := &StreamDefinition{name: name, version: DefaultStreamVersion}
	d.generateStreamID()
	return d
}

// NewStreamDefinitionWithID creates a validated stream definition.
//
// Deprecated: the stream id is always derived as <name>-<version>; streamID is ignored.
// Use NewStreamDefinition.
func NewStreamDefinitionWithID(name, version, streamID string) (*StreamDefinition, error) {
	return NewStreamDefinition(name, version)
}

func (d *StreamDefinition) generateStreamID() {
	if d.streamID == "" {
		d.streamID = GenerateStreamID(d.name, d.version)
	}
}

// GetStreamID returns the derived stream id
func (d *StreamDefinition) GetStreamID() string {
	return d.streamID
}

// GetName returns the stream name
func (d *StreamDefinition) GetName() string {
	return d.name
}

// GetVersion returns the stream version
func (d *StreamDefinition) GetVersion() string {
	return d.version
}

// GetNickName returns the nickname
func (d *StreamDefinition) GetNickName() string {
	return d.nickName
}

// SetNickName sets the nickname
func (d *StreamDefinition) SetNickName(nickName string) {
	d.nickName = nickName
}

// GetDescription returns the description
func (d *StreamDefinition) GetDescription() string {
	return d.description
}

// SetDescription sets the description
func (d *StreamDefinition) SetDescription(description string) {
	d.description = description
}

// GetTags returns the tags, nil when none were added
func (d *StreamDefinition) GetTags() []string {
	return d.tags
}

// SetTags replaces the tags
func (d *StreamDefinition) SetTags(tags []string) {
	d.tags = tags
}

// GetMetaData returns the metadata attributes
func (d *StreamDefinition) GetMetaData() []Attribute {
	return d.metaData
}

// SetMetaData replaces the metadata attributes
func (d *StreamDefinition) SetMetaData(attrs []Attribute) {
	d.metaData = attrs
}

// GetCorrelationData returns the correlation attributes
func (d *StreamDefinition) GetCorrelationData() []Attribute {
	return d.correlationData
}

// SetCorrelationData replaces the correlation attributes
func (d *StreamDefinition) SetCorrelationData(attrs []Attribute) {
	d.correlationData = attrs
}

// GetPayloadData returns the payload attributes
func (d *StreamDefinition) GetPayloadData() []Attribute {
	return d.payloadData
}

// SetPayloadData replaces the payload attributes
func (d *StreamDefinition) SetPayloadData(attrs []Attribute) {
	d.payloadData = attrs
}

// Attributes returns the attributes of a group, nil for an unknown group
func (d *StreamDefinition) Attributes(group AttributeGroup) []Attribute {
	switch group {
	case MetaDataGroup:
		return d.metaData
	case CorrelationDataGroup:
		return d.correlationData
	case PayloadDataGroup:
		return d.payloadData
	}
	return nil
}

// AttributeListForKey returns the group named by key ("metaData", "correlationData"
// or "payloadData"). Any other key yields nil.
func (d *StreamDefinition) AttributeListForKey(key string) []Attribute {
	group, ok := ParseAttributeGroup(key)
	if !ok {
		return nil
	}
	return d.Attributes(group)
}

// AddTag appends a tag
func (d *StreamDefinition) AddTag(tag string) {
	d.tags = append(d.tags, tag)
}

// AddMetaData appends a metadata attribute
func (d *StreamDefinition) AddMetaData(name string, attrType AttributeType) {
	d.metaData = append(d.metaData, NewAttribute(name, attrType))
}

// AddCorrelationData appends a correlation attribute
func (d *StreamDefinition) AddCorrelationData(name string, attrType AttributeType) {
	d.correlationData = append(d.correlationData, NewAttribute(name, attrType))
}

// AddPayloadData appends a payload attribute
func (d *StreamDefinition) AddPayloadData(name string, attrType AttributeType) {
	d.payloadData = append(d.payloadData, NewAttribute(name, attrType))
}

// Equal reports whether two definitions describe the same schema.
//
// Only name, version and the attribute groups take part. Stream id, nickname,
// description and tags are ignored so a re-registered schema with different
// display metadata is detected as a duplicate. A nil group equals an empty one.
func (d *StreamDefinition) Equal(other *StreamDefinition) bool {
	if d == other {
		return true
	}
	if d == nil || other == nil {
		return false
	}
	return d.name == other.name &&
		d.version == other.version &&
		attributesEqual(d.metaData, other.metaData) &&
		attributesEqual(d.correlationData, other.correlationData) &&
		attributesEqual(d.payloadData, other.payloadData)
}

// Hash returns a hash consistent with Equal
func (d *StreamDefinition) Hash() uint64 {
	result := hashString(d.name)
	result = 31*result + hashString(d.version)
	result = 31*result + hashAttributes(d.metaData)
	result = 31*result + hashAttributes(d.correlationData)
	result = 31*result + hashAttributes(d.payloadData)
	return result
}

// documentFormat renders definitions for String. It is set by the serialization
// package, which depends on this one.
var documentFormat func(*StreamDefinition) (string, error)

// RegisterDocumentFormat sets how String renders a definition.
// It is meant to be called from an init function.
func RegisterDocumentFormat(format func(*StreamDefinition) (string, error)) {
	documentFormat = format
}

// String returns the definition document when a document format is registered,
// and StreamDefinition(<id>) otherwise.
func (d *StreamDefinition) String() string {
	if documentFormat != nil {
		if doc, err := documentFormat(d); err == nil {
			return doc
		}
	}
	return "StreamDefinition(" + d.streamID + ")"
}

func attributesEqual(a, b []Attribute) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// hashAttributes returns 0 for an absent or empty group
func hashAttributes(attrs []Attribute) uint64 {
	if len(attrs) == 0 {
		return 0
	}
	var result uint64 = 1
	for _, a := range attrs {
		result = 31*result + (31*hashString(a.Name) + uint64(a.Type))
	}
	return result
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
