package config

type DatabaseConfig struct {
	DatabasePath        string `env:"DATABASE_PATH"`
	DatabaseAutoMigrate bool   `env:"DATABASE_AUTO_MIGRATE"`
}

func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		DatabasePath:        "parley.db",
		DatabaseAutoMigrate: true,
	}
}

func ResolveDatabaseConfig(testing bool) (*DatabaseConfig, error) {
	conf := NewDatabaseConfig()
	return conf, resolveConfig(conf, testing)
}
