package contracts

import "strings"

// StreamIDSeparator joins a stream name and version into a stream id
const StreamIDSeparator = "-"

// DefaultStreamVersion is used when a definition is created without a version
const DefaultStreamVersion = "1.0.0"

// GenerateStreamID derives the canonical stream id for a name and version
func GenerateStreamID(name, version string) string {
	return name + StreamIDSeparator + version
}

// StreamNameFromID returns the name part of a stream id
func StreamNameFromID(streamID string) string {
	if i := strings.LastIndex(streamID, StreamIDSeparator); i >= 0 {
		return streamID[:i]
	}
	return streamID
}

// StreamVersionFromID returns the version part of a stream id, or "" when there is none
func StreamVersionFromID(streamID string) string {
	if i := strings.LastIndex(streamID, StreamIDSeparator); i >= 0 {
		return streamID[i+len(StreamIDSeparator):]
	}
	return ""
}
