package store

import "strings"

const (
	vendorHeightPrefix = "v"
	resolvedPrefix     = "r"
	metaPrefix         = "m"
)

func getVendorHeightKey(vendor string) string {
	return GenerateKey([]string{vendorHeightPrefix, vendor})
}

func getResolvedKey(sfxID string) string {
	return GenerateKey([]string{resolvedPrefix, sfxID})
}

func getMetaKey(key string) string {
	return GenerateKey([]string{metaPrefix, key})
}

// GenerateKey joins key parts into a datastore key path.
func GenerateKey(fields []string) string {
	return "/" + strings.Join(fields, "/")
}
