package main

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roundkeeper/internal/config"
)

const releaseVersion = "0.4.0"

func main() {
	log.SetFlags(0)
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "roundkeeper",
		Short:         "Runs a live geo-guessing game for chat, following the streamer's game round by round.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	config.RegisterFlags(fs)
	v := config.NewViper(fs)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("roundkeeper v{{.Version}}\n")

	return cmd
}
