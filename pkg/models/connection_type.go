package models

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownConnectionType is returned when a port uses a connection type the host does not know.
var ErrUnknownConnectionType = errors.New("unknown connection type")

// ConnectionType identifies what flows through a port: plain data items or a capability kind.
type ConnectionType string

const (
	// ConnectionTypeMain carries ordered data items.
	ConnectionTypeMain ConnectionType = "main"

	// Capability kinds. Objects flowing through these ports are live service handles.
	ConnectionTypeAiDocument     ConnectionType = "ai_document"
	ConnectionTypeAiEmbedding    ConnectionType = "ai_embedding"
	ConnectionTypeAiTextSplitter ConnectionType = "ai_textSplitter"
	ConnectionTypeAiVectorStore  ConnectionType = "ai_vectorStore"
	ConnectionTypeAiRetriever    ConnectionType = "ai_retriever"
)

var connectionTypeDisplayName = map[ConnectionType]string{
	ConnectionTypeMain:           "Main",
	ConnectionTypeAiDocument:     "Document",
	ConnectionTypeAiEmbedding:    "Embedding",
	ConnectionTypeAiTextSplitter: "Text Splitter",
	ConnectionTypeAiVectorStore:  "Vector Store",
	ConnectionTypeAiRetriever:    "Retriever",
}

// Known reports whether the connection type belongs to the closed set known to the host.
func (t ConnectionType) Known() bool {
	_, ok := connectionTypeDisplayName[t]

	return ok
}

// IsCapability reports whether the connection type carries capability objects instead of data items.
func (t ConnectionType) IsCapability() bool {
	return t.Known() && t != ConnectionTypeMain
}

// DisplayName returns the human-readable name of the connection type.
func (t ConnectionType) DisplayName() string {
	if name, ok := connectionTypeDisplayName[t]; ok {
		return name
	}

	return string(t)
}

// ParseConnectionType converts a string into a known ConnectionType.
func ParseConnectionType(value string) (ConnectionType, error) {
	t := ConnectionType(value)
	if !t.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownConnectionType, value)
	}

	return t, nil
}

// ConnectionTypes returns every known connection type, sorted by name.
func ConnectionTypes() []ConnectionType {
	types := make([]ConnectionType, 0, len(connectionTypeDisplayName))
	for t := range connectionTypeDisplayName {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}
