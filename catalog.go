package cloudgpt

// DefaultCatalog returns the built-in model table.
func DefaultCatalog() []Model {
	return []Model{
		// Chat.
		{ID: "openai", DisplayName: "OpenAI GPT-4o mini", Provider: ProviderPollinations, Modality: ModalityChat,
			Aliases: []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1-mini", "chatgpt"}},
		{ID: "openai-fast", DisplayName: "OpenAI GPT-4.1 nano", Provider: ProviderPollinations, Modality: ModalityChat,
			Aliases: []string{"gpt-4.1-nano"}},
		{ID: "openai-large", DisplayName: "OpenAI GPT-4.1", Provider: ProviderPollinations, Modality: ModalityChat, Premium: true,
			Aliases: []string{"gpt-4.1", "gpt-4-turbo"}},
		{ID: "openai-reasoning", DisplayName: "OpenAI o4-mini", Provider: ProviderPollinations, Modality: ModalityChat, Premium: true,
			Aliases: []string{"o3", "o3-mini", "o4-mini"}},
		{ID: "gemini", DisplayName: "Gemini 2.5 Flash", Provider: ProviderPollinations, Modality: ModalityChat,
			Aliases: []string{"gemini-2.5-flash", "gemini-flash"}},
		{ID: "gemini-pro", DisplayName: "Gemini 2.5 Pro", Provider: ProviderOpenRouter, Upstream: "google/gemini-2.5-pro", Modality: ModalityChat, Premium: true,
			Aliases: []string{"gemini-2.5-pro"}},
		{ID: "deepseek", DisplayName: "DeepSeek V3", Provider: ProviderPollinations, Modality: ModalityChat,
			Aliases: []string{"deepseek-chat", "deepseek-v3"}},
		{ID: "deepseek-reasoning", DisplayName: "DeepSeek R1", Provider: ProviderPollinations, Modality: ModalityChat, Premium: true,
			Aliases: []string{"deepseek-r1", "deepseek-reasoner"}},
		{ID: "mistral", DisplayName: "Mistral Small 3.1", Provider: ProviderPollinations, Modality: ModalityChat,
			Aliases: []string{"mistral-small"}},
		{ID: "qwen-coder", DisplayName: "Qwen 2.5 Coder 32B", Provider: ProviderPollinations, Modality: ModalityChat,
			Aliases: []string{"qwen2.5-coder"}},
		{ID: "claude", DisplayName: "Claude 3.5 Haiku", Provider: ProviderOpenRouter, Upstream: "anthropic/claude-3.5-haiku", Modality: ModalityChat, Premium: true,
			Aliases: []string{"claude-3.5-haiku", "claude-haiku"}},
		{ID: "llama", DisplayName: "Llama 3.3 70B", Provider: ProviderOpenRouter, Upstream: "meta-llama/llama-3.3-70b-instruct", Modality: ModalityChat,
			Aliases: []string{"llama-3.3-70b"}},
		{ID: "github-gpt-4.1", DisplayName: "GPT-4.1 (GitHub Models)", Provider: ProviderGitHub, Upstream: "openai/gpt-4.1", Modality: ModalityChat, Premium: true},
		{ID: "cloudgpt", DisplayName: "CloudGPT Assistant", Provider: ProviderCustom, Modality: ModalityChat,
			Aliases: []string{"cloudgpt-1"}},
		{ID: "horde", DisplayName: "Community LLM (AI Horde)", Provider: ProviderHorde, Upstream: "", Modality: ModalityChat, UsageWeight: 0.5,
			Aliases: []string{"kobold", "community"}},

		// Embeddings.
		{ID: "text-embedding-3-small", DisplayName: "OpenAI Embedding 3 Small", Provider: ProviderGitHub, Upstream: "openai/text-embedding-3-small", Modality: ModalityEmbedding,
			Aliases: []string{"embedding-small"}},
		{ID: "text-embedding-3-large", DisplayName: "OpenAI Embedding 3 Large", Provider: ProviderGitHub, Upstream: "openai/text-embedding-3-large", Modality: ModalityEmbedding,
			Aliases: []string{"embedding-large"}},

		// Images.
		{ID: "flux", DisplayName: "FLUX.1 Schnell", Provider: ProviderPollinations, Modality: ModalityImage,
			Aliases: []string{"flux-schnell", "dall-e-3"}},
		{ID: "turbo", DisplayName: "SDXL Turbo", Provider: ProviderPollinations, Modality: ModalityImage,
			Aliases: []string{"sdxl-turbo"}},
		{ID: "kontext", DisplayName: "FLUX.1 Kontext", Provider: ProviderPollinations, Modality: ModalityImage, Premium: true, UsageWeight: 2,
			Aliases: []string{"flux-kontext"}},
		{ID: "gptimage", DisplayName: "GPT Image 1", Provider: ProviderPollinations, Modality: ModalityImage, Premium: true, UsageWeight: 4,
			Aliases: []string{"gpt-image-1"}},
		{ID: "horde-sdxl", DisplayName: "SDXL (AI Horde)", Provider: ProviderHorde, Upstream: "SDXL 1.0", Modality: ModalityImage,
			Aliases: []string{"stable-diffusion-xl"}},
		{ID: "horde-inpaint", DisplayName: "Inpainting (AI Horde)", Provider: ProviderHorde, Upstream: "stable_diffusion_inpainting", Modality: ModalityImage, RequiresMask: true,
			Aliases: []string{"inpainting"}},

		// Video.
		{ID: "seedance", DisplayName: "Seedance Lite", Provider: ProviderPollinations, Modality: ModalityVideo, UsageWeight: 50, MaxDuration: 10,
			Aliases: []string{"seedance-lite"}},
		{ID: "veo", DisplayName: "Veo 3 Fast", Provider: ProviderPollinations, Modality: ModalityVideo, Premium: true, UsageWeight: 50, MaxDuration: 8,
			Aliases: []string{"veo-3"}},
	}
}

// DefaultRegistry returns a registry over the built-in catalog.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultCatalog())
	if err != nil {
		panic(err)
	}
	return r
}
