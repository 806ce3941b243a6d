// Package contracts provides the stream definition types shared by the databridge-go libraries.
//
// This package defines:
//   - StreamDefinition: a named, versioned event schema with three ordered attribute groups
//   - Attribute and AttributeType: a schema field and its scalar type
//   - Event: a concrete event shaped by a stream definition
//   - MalformedDefinitionError: returned when a name or version breaks the naming rules
//
// A stream id is always derived as <name>-<version>, so neither part may contain
// the separator. Versions follow the x.y.z format.
//
// Basic usage:
//
//	def, err := contracts.NewStreamDefinition("Temperature", "1.0.0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	def.AddMetaData("sensorId", contracts.AttributeTypeString)
//	def.AddPayloadData("celsius", contracts.AttributeTypeDouble)
//	fmt.Println(def.GetStreamID()) // Temperature-1.0.0
//
// Two definitions are Equal when their name, version and attribute groups match;
// display metadata (nickname, description, tags) is ignored so registries can tell
// a re-registered schema from a conflicting one.
package contracts
