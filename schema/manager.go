package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Manager caches parsed table schemas so snapshots of the same table at
// different versions share one decoded schema while the metadata is unchanged.
type Manager struct {
	schemas map[string]*TableSchema // Maps metadata id + schema digest to schema
	mu      sync.RWMutex
}

func NewSchemaManager() *Manager {
	return &Manager{
		schemas: make(map[string]*TableSchema),
	}
}

func cacheKey(metadataID, schemaString string) string {
	sum := sha256.Sum256([]byte(schemaString))
	return metadataID + ":" + hex.EncodeToString(sum[:8])
}

// GetSchema returns the parsed schema, decoding it on first use
func (m *Manager) GetSchema(metadataID, schemaString string) (*TableSchema, error) {
	key := cacheKey(metadataID, schemaString)

	m.mu.RLock()
	schema, exists := m.schemas[key]
	m.mu.RUnlock()

	if exists {
		return schema, nil
	}

	schema, err := ParseSchemaString(schemaString)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if cached, ok := m.schemas[key]; ok {
		schema = cached
	} else {
		m.schemas[key] = schema
	}
	m.mu.Unlock()

	return schema, nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.schemas)
}
