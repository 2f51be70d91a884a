package settings

import (
	"net/url"
	"strconv"
	"time"

	"github.com/ordishs/gocore"
)

func getString(key, defaultValue string) string {
	value, found := gocore.Config().Get(key)
	if !found {
		return defaultValue
	}

	return value
}

func getMultiString(key, sep string) []string {
	value, _ := gocore.Config().GetMulti(key, sep)

	return value
}

func getInt(key string, defaultValue int) int {
	value, found := gocore.Config().GetInt(key)
	if !found {
		return defaultValue
	}

	return value
}

func getUint64(key string, defaultValue uint64) uint64 {
	return getParsed(key, defaultValue, func(s string) (uint64, error) {
		return strconv.ParseUint(s, 10, 64)
	})
}

func getFloat64(key string, defaultValue float64) float64 {
	return getParsed(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// getParsed falls back to defaultValue when the key is unset or does not parse.
func getParsed[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw, found := gocore.Config().Get(key)
	if !found {
		return defaultValue
	}

	value, err := parse(raw)
	if err != nil {
		return defaultValue
	}

	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, err, _ := gocore.Config().GetDuration(key, defaultValue)
	if err != nil {
		return defaultValue
	}

	return value
}

func getURL(key, defaultValue string) *url.URL {
	value, _, _ := gocore.Config().GetURL(key, defaultValue)

	return value
}

func getBool(key string, defaultValue bool) bool {
	return gocore.Config().GetBool(key, defaultValue)
}
