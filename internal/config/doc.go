/*
Package config loads ServerConfig and ProxyConfig from YAML files,
AFSCACHE_* environment variables, and command-line flags applied by the
caller, in that increasing order of precedence.

	cfg := config.NewDefaultProxyConfig()
	if err := cfg.LoadFromFile("/etc/afscache/proxy.yaml"); err != nil {
		log.Fatal(err)
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
*/
package config
