package cmd

import (
	"strings"

	"github.com/flowwatch/flowwatch/pkg/persistence"
	"github.com/flowwatch/flowwatch/pkg/persistence/file"
)

var supportedPersistenceProviders = []string{"file"}

// NewPersistence creates the execution repository for the given data URL.
// Only file-backed storage exists today; unknown schemes fall back to it.
func NewPersistence(dataURL string) persistence.Persistence {
	provider := parsePersistenceProvider(dataURL)

	switch provider {
	default:
		return file.NewPersistence(dataURL)
	}
}

func parsePersistenceProvider(dataURL string) string {
	parts := strings.Split(dataURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
