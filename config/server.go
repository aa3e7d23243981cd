package config

type ServerConfig struct {
	Host string `env:"HOST"`
	Port int    `env:"PORT"`
}

func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Host: "0.0.0.0",
		Port: 9080,
	}
}

func ResolveServerConfig(testing bool) (*ServerConfig, error) {
	conf := NewServerConfig()
	return conf, resolveConfig(conf, testing)
}
