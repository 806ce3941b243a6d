package contracts

import "time"

// Event is a single occurrence on a stream. Values are positional: the i-th
// value of a group corresponds to the i-th attribute of the same group in the
// stream's definition.
type Event struct {
	StreamID        string            `json:"streamId"`
	Timestamp       time.Time         `json:"timestamp"`
	MetaData        []any             `json:"metaData,omitempty"`
	CorrelationData []any             `json:"correlationData,omitempty"`
	PayloadData     []any             `json:"payloadData,omitempty"`
	ArbitraryData   map[string]string `json:"arbitraryDataMap,omitempty"`
}

// NewEvent creates an event for a stream stamped with the current time
func NewEvent(streamID string, metaData, correlationData, payloadData []any) *Event {
	return &Event{
		StreamID:        streamID,
		Timestamp:       time.Now().UTC(),
		MetaData:        metaData,
		CorrelationData: correlationData,
		PayloadData:     payloadData,
	}
}

// Values returns the values of a group, nil for an unknown group
func (e *Event) Values(group AttributeGroup) []any {
	switch group {
	case MetaDataGroup:
		return e.MetaData
	case CorrelationDataGroup:
		return e.CorrelationData
	case PayloadDataGroup:
		return e.PayloadData
	}
	return nil
}
