package config

// StoreConfig configures the Persistence Adapter (spec §4.8).
type StoreConfig struct {
	// Driver selects the backend: "memory" or "sqlite".
	Driver string `json:"driver"`

	// DSN is the sqlite data source name (e.g. "file:engine.db?_pragma=busy_timeout(5000)").
	// Ignored for the memory driver.
	DSN string `json:"dsn"`

	// PageSize is a default page size for list_by_status. The engine does not
	// apply it: ListInstances passes the caller's Page to the store as given.
	PageSize int `json:"page_size"`
}

// DefaultStoreConfig returns sensible defaults: in-memory, suitable for
// development and testing but not durability across process restarts.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:   "memory",
		PageSize: 50,
	}
}

func (c *StoreConfig) Merge(source *StoreConfig) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if source.DSN != "" {
		c.DSN = source.DSN
	}
	if source.PageSize > 0 {
		c.PageSize = source.PageSize
	}
}
