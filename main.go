package main

import (
	"fmt"

	"github.com/fundbook/mf-api/cmd"

	"github.com/spf13/viper"
)

func configureViper() {
	// read config file
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath("/etc/mf-api/")
	viper.AddConfigPath("$HOME/.config/mf-api")
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}
}

func main() {
	configureViper()
	cmd.Execute()
}
