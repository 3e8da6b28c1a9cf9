package config

// HookConfig controls the Hook Registry & Event Bus (spec §4.7).
type HookConfig struct {
	// MaxDepth bounds hook expansion depth, preventing a cyclic hook graph
	// from runaway instance creation (spec §4.7; §9 Open Question: default 8).
	MaxDepth int `json:"max_depth"`

	// ChannelBufferSize mirrors orchestrate/config/hub.go's
	// HubConfig.ChannelBufferSize. Hook dispatch is synchronous and no
	// component reads this value.
	ChannelBufferSize int `json:"channel_buffer_size"`

	// Observer names an observability.Observer. The engine does not read it:
	// the hook registry shares the observer named by ExecutorConfig.Observer.
	Observer string `json:"observer"`
}

// DefaultHookConfig returns sensible defaults.
func DefaultHookConfig() HookConfig {
	return HookConfig{
		MaxDepth:          8,
		ChannelBufferSize: 256,
		Observer:          "slog",
	}
}

func (c *HookConfig) Merge(source *HookConfig) {
	if source.MaxDepth > 0 {
		c.MaxDepth = source.MaxDepth
	}
	if source.ChannelBufferSize > 0 {
		c.ChannelBufferSize = source.ChannelBufferSize
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}
