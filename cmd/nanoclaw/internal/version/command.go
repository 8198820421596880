package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/nanoclaw/cmd/nanoclaw/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print nanoclaw version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("nanoclaw %s\n", internal.FormatVersion())
			build, goVer := internal.FormatBuildInfo()
			if build != "" {
				fmt.Printf("built:  %s\n", build)
			}
			fmt.Printf("go:     %s\n", goVer)
		},
	}
}
