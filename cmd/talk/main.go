// Command talk holds a spoken conversation with the Azure OpenAI realtime
// model through the local sound card.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:          "talk",
	Short:        "Talk to an Azure OpenAI realtime voice agent",
	SilenceUsage: true,
	Long: `talk streams your microphone to the Azure OpenAI realtime API and plays
the spoken answer back. It can reach the model directly, through the voice
server relay, or over WebRTC with an ephemeral key from the voice server.

Running talk without a subcommand is the same as "talk run".`,
	RunE: runTalk,
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return config.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
