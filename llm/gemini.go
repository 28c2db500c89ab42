package llm

// newGemini targets Google's OpenAI compatibility endpoint. The base
// URL carries the whole path, so the prefix is empty. Chat only: the
// compatibility layer has no stable embedding or rerank surface.
func newGemini(cfg ProviderConfig) *openAICompatClient {
	c := newOpenAICompatBase("gemini", KindGemini, cfg,
		"https://generativelanguage.googleapis.com/v1beta/openai", "")
	if c.chatModel == "" {
		c.chatModel = "gemini-2.0-flash"
	}
	return &c
}
