package main

import (
	"fmt"
	"os"

	"callsense/internal/config"

	"github.com/pelletier/go-toml/v2"
)

// showcfg prints the effective configuration after defaults and env overrides.
func main() {
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("# %s\n%s", cfg.Paths.ConfigPath, out)
}
