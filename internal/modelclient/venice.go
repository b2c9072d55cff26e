package modelclient

// veniceBaseURL is the Venice AI OpenAI-compatible endpoint, used as the
// "online" model tier for C2's web-search delegate: Venice's anonymized
// proxy models have live web access that the primary/secondary tiers do not.
const veniceBaseURL = "https://api.venice.ai/api/v1"

// NewVeniceProvider builds the web-search-capable provider. Venice speaks
// the OpenAI protocol, so this reuses OpenAICompatProvider rather than a
// bespoke client; NativeTools is left false by the caller because Venice's
// anonymized models are inconsistent about honoring the tools field, so
// tool calls to this tier are parsed out of the text response instead.
func NewVeniceProvider(apiKey string) *OpenAICompatProvider {
	return NewOpenAICompatProvider("venice", apiKey, veniceBaseURL)
}
