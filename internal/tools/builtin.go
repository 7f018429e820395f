package tools

// Config carries what the built-in tools need from the app config.
type Config struct {
	// SerpAPIKey enables serpapi_search results. Without it the tool is still
	// registered but every call fails with ErrNoSerpAPIKey.
	SerpAPIKey string
	// SerpAPIURL overrides the search endpoint.
	SerpAPIURL string
	// WorkDir is the root for the filesystem tools.
	WorkDir string
}

// Builtin returns a registry with every built-in tool registered.
func Builtin(cfg Config) (*Registry, error) {
	search := NewSerpAPI(cfg.SerpAPIKey)
	if cfg.SerpAPIURL != "" {
		search.BaseURL = cfg.SerpAPIURL
	}

	dirRead, err := NewDirectoryRead(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	fileRead, err := NewFileRead(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	fileWrite, err := NewFileWrite(cfg.WorkDir)
	if err != nil {
		return nil, err
	}

	return NewRegistry(search, NewScraper(), dirRead, fileRead, fileWrite)
}
