package config

import "time"

// Watch file sets of the stock project layout.
var (
	serverViews = []string{"app/views/**/*.*"}
	serverJS    = []string{"gruntfile.js", "server.js", "config/**/*.js", "app/**/*.js"}
	clientViews = []string{"public/modules/**/views/**/*.html"}
	clientJS    = []string{"public/js/*.js", "public/modules/**/*.js"}
	clientCSS   = []string{"public/modules/**/*.css"}
)

// Default returns the stock configuration.
func Default() *Config {
	debounce := Duration(500 * time.Millisecond)

	return &Config{
		Project: ProjectConfig{
			Root:     ".",
			Manifest: "config/assets.yaml",
		},
		Env: EnvConfig{
			Variable: "NODE_ENV",
			Default:  ModeDevelopment,
			Dotenv:   []string{".env"},
		},
		Runner: RunnerConfig{
			Force: false,
		},
		Output: OutputConfig{
			JS:    "public/dist/application.js",
			JSMin: "public/dist/application.min.js",
			CSS:   "public/dist/application.min.css",
		},
		Lint: LintConfig{
			JS: CommandConfig{
				Command: "jshint",
				Files:   concat(clientJS, serverJS),
				Matcher: "jshint",
			},
			CSS: CommandConfig{
				Command: "csslint",
				Args:    []string{"--format=compact"},
				Files:   clientCSS,
				Matcher: "csslint",
			},
		},
		Annotate: AnnotateConfig{},
		Minify: MinifyConfig{
			Kind: "builtin",
		},
		Server: ServerConfig{
			Command:     "node",
			Script:      "server.js",
			DevArgs:     []string{"--debug"},
			RestartOn:   concat(serverViews, serverJS),
			Ignore:      []string{"node_modules/**"},
			Backoff:     Duration(time.Second),
			MaxBackoff:  Duration(30 * time.Second),
			MaxRestarts: 5,
			StableAfter: Duration(10 * time.Second),
			Grace:       Duration(5 * time.Second),
			Debounce:    Duration(time.Second),
		},
		Watch: WatchConfig{
			Debounce: debounce,
			Force:    true,
			Ignore:   []string{"node_modules/**", ".git/**", "public/dist/**", "public/lib/**"},
			Groups: []WatchGroupConfig{
				{Name: "serverViews", Files: serverViews, LiveReload: true},
				{Name: "serverJS", Files: serverJS, Tasks: []string{"jshint"}, LiveReload: true},
				{Name: "clientViews", Files: clientViews, LiveReload: true},
				{Name: "clientJS", Files: clientJS, Tasks: []string{"jshint", "build:dev"}, LiveReload: true},
				{Name: "clientCSS", Files: clientCSS, Tasks: []string{"csslint", "build:dev"}, LiveReload: true},
			},
		},
		Concurrent: ConcurrentConfig{
			Limit: 10,
		},
		LiveReload: LiveReloadConfig{
			Enabled: true,
			Addr:    "127.0.0.1:35729",
		},
		Test: TestConfig{
			Env: map[string]string{"NODE_ENV": ModeTest},
			Runner: CommandConfig{
				Command: "karma",
				Args:    []string{"start", "karma.conf.js", "--single-run"},
			},
		},
		Tasks: []TaskConfig{
			{
				Name:          "create-admin-user",
				Description:   "Creates an admin user from admin-config.json",
				CommandConfig: CommandConfig{Command: "node", Args: []string{"createAdminUser.js"}},
			},
		},
		Aliases: map[string]Alias{},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
	}
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
