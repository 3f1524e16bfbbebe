// Package config loads and validates Matrix Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by MATRIXCORE_* environment variables. Validation
// runs once at load time so the rest of the application can trust the
// values it receives (poll interval bounds, port ranges, JWT secret length).
//
// Example:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Matrix.Host)
package config
