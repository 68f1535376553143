package main

import (
	"flag"
	"log"

	"github.com/danmuck/wrtctl/internal/config"
)

func main() {
	output := flag.String("output", "wrtctld.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "wrtctld.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadDaemon(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated wrtctld config at %s (listen %s, modules %v)", *input, cfg.Addr(), cfg.Modules)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote wrtctld config template to %s", *output)
}
