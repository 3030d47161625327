package commands

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/Safariblocks-LTD/codelock-agent/internal/app"
)

// envPrefix selects the environment variables the agent reads. A double
// underscore separates nesting levels: CODELOCK_SERVER__PORT → server.port.
const envPrefix = "CODELOCK_"

// loaderOnlyFlags steer config loading itself and never populate the Config.
var loaderOnlyFlags = map[string]bool{
	"config": true,
	"help":   true,
}

// loadConfig assembles the agent configuration. Later sources override
// earlier ones: TOML file, then environment, then explicitly set CLI flags;
// whatever remains unset is filled by ApplyDefaults.
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: envKeyTransform,
		EnvironFunc:   environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(flagValues(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// envKeyTransform maps CODELOCK_PROVIDER__CLIENT_ID to provider.client_id.
func envKeyTransform(key, value string) (string, any) {
	stripped := strings.TrimPrefix(key, envPrefix)
	nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
	return nested, value
}

// flagValues collects the explicitly set CLI flags as config keys, including
// flags inherited from parent commands: --server--host → server.host,
// --log-level → log_level. Unset flags are skipped so file and environment
// values keep their precedence, and loader-only flags never reach the Config.
func flagValues(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	for _, name := range cmd.FlagNames() {
		if loaderOnlyFlags[name] || !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			key = strings.ReplaceAll(key, "-", "_")
			values[key] = value
		}
	}

	return values
}
