// Package factory creates a kv.Store from a store URL.
package factory

import (
	"net/url"

	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/stores/kv"
	"github.com/goldcoin/popnode/stores/kv/leveldb"
	"github.com/goldcoin/popnode/stores/kv/memory"
	"github.com/goldcoin/popnode/ulogger"
)

// New returns the store selected by the URL scheme:
//
//	memory:///            in-memory map
//	leveldb:///data/chain leveldb under ./data/chain
//	leveldb://memory      leveldb on memory storage
func New(logger ulogger.Logger, storeURL *url.URL) (kv.Store, error) {
	if storeURL == nil {
		return nil, errors.NewConfigurationError("no store url configured")
	}

	switch storeURL.Scheme {
	case "memory":
		return memory.New(), nil

	case "leveldb":
		if storeURL.Host == "memory" {
			return leveldb.NewInMemory(logger)
		}

		if storeURL.Path == "" || storeURL.Path == "/" {
			return nil, errors.NewConfigurationError("leveldb store url %s has no path", storeURL)
		}

		// relative to the working directory
		return leveldb.New(logger, "."+storeURL.Path)

	default:
		return nil, errors.NewConfigurationError("unknown store type: %s", storeURL.Scheme)
	}
}
