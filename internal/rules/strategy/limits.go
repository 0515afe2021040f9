package strategy

// Limits referenced by validation across the Strategy Registry and Rule
// Configuration Store (spec.md §2/§4.2).
const (
	MaxRegexPatternLength = 500
	MaxFieldRules         = 32
	MaxErrorMessageLength = 500
	MaxCustomParams       = 64
	MinPriority           = -1000
	MaxPriority           = 1000
	MaxCacheSize          = 10000
)
