package anthropic

import sdk "github.com/anthropics/anthropic-sdk-go"

// Cache TTLs accepted by the API.
const (
	CacheTTLShort = "5m"
	CacheTTLLong  = "1h"
)

// ValidCacheTTL reports whether ttl is empty or a TTL the API accepts.
func ValidCacheTTL(ttl string) bool {
	return ttl == "" || ttl == CacheTTLShort || ttl == CacheTTLLong
}

// systemBlocks renders the system role, with a cache breakpoint when ttl is
// set.
func systemBlocks(text, ttl string) []sdk.TextBlockParam {
	block := sdk.TextBlockParam{Text: text}
	if ttl != "" {
		cc := sdk.NewCacheControlEphemeralParam()
		cc.TTL = sdk.CacheControlEphemeralTTL(ttl)
		block.CacheControl = cc
	}
	return []sdk.TextBlockParam{block}
}
