package mongo

import (
	"fmt"

	"github.com/glimte/databridge-go/contracts"
)

// definitionDocument is the stored form of a stream definition
type definitionDocument struct {
	StreamID        string              `bson:"_id"`
	Name            string              `bson:"name"`
	Version         string              `bson:"version"`
	NickName        string              `bson:"nickName,omitempty"`
	Description     string              `bson:"description,omitempty"`
	Tags            []string            `bson:"tags,omitempty"`
	MetaData        []attributeDocument `bson:"metaData,omitempty"`
	CorrelationData []attributeDocument `bson:"correlationData,omitempty"`
	PayloadData     []attributeDocument `bson:"payloadData,omitempty"`
}

// attributeDocument stores the type by name so the enum order can change
type attributeDocument struct {
	Name string `bson:"name"`
	Type string `bson:"type"`
}

func toDocument(def *contracts.StreamDefinition) definitionDocument {
	return definitionDocument{
		StreamID:        def.GetStreamID(),
		Name:            def.GetName(),
		Version:         def.GetVersion(),
		NickName:        def.GetNickName(),
		Description:     def.GetDescription(),
		Tags:            def.GetTags(),
		MetaData:        toAttributeDocuments(def.GetMetaData()),
		CorrelationData: toAttributeDocuments(def.GetCorrelationData()),
		PayloadData:     toAttributeDocuments(def.GetPayloadData()),
	}
}

// toDefinition accepts every document Save can write. Definitions created by
// name only are not validated and always carry the default version.
func (d definitionDocument) toDefinition() (*contracts.StreamDefinition, error) {
	var def *contracts.StreamDefinition
	if d.Version == contracts.DefaultStreamVersion {
		def = contracts.NewStreamDefinitionWithName(d.Name)
	} else {
		var err error
		if def, err = contracts.NewStreamDefinition(d.Name, d.Version); err != nil {
			return nil, err
		}
	}
	def.SetNickName(d.NickName)
	def.SetDescription(d.Description)
	def.SetTags(d.Tags)

	groups := []struct {
		docs []attributeDocument
		set  func([]contracts.Attribute)
	}{
		{d.MetaData, def.SetMetaData},
		{d.CorrelationData, def.SetCorrelationData},
		{d.PayloadData, def.SetPayloadData},
	}
	for _, g := range groups {
		attrs, err := fromAttributeDocuments(g.docs)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", d.StreamID, err)
		}
		g.set(attrs)
	}
	return def, nil
}

func toAttributeDocuments(attrs []contracts.Attribute) []attributeDocument {
	if attrs == nil {
		return nil
	}
	docs := make([]attributeDocument, len(attrs))
	for i, a := range attrs {
		docs[i] = attributeDocument{Name: a.Name, Type: a.Type.String()}
	}
	return docs
}

func fromAttributeDocuments(docs []attributeDocument) ([]contracts.Attribute, error) {
	if docs == nil {
		return nil, nil
	}
	attrs := make([]contracts.Attribute, len(docs))
	for i, d := range docs {
		t, err := contracts.ParseAttributeType(d.Type)
		if err != nil {
			return nil, err
		}
		attrs[i] = contracts.NewAttribute(d.Name, t)
	}
	return attrs, nil
}
