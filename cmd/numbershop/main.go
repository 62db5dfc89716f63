package main

import (
	"log"

	corecmd "github.com/m3rciful/numbershop/core/cmd"
	"github.com/m3rciful/numbershop/internal/app"
	"github.com/m3rciful/numbershop/internal/config"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		EnvFiles:          []string{".env.local", ".env"},
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return config.Load(path)
		},
		Bootstrap: app.Bootstrap,
	})
	if err != nil {
		log.Fatal(err)
	}
}
