// NanoClaw - WhatsApp gateway for generative images
// License: MIT
//
// Copyright (c) 2026 NanoClaw contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/nanoclaw/cmd/nanoclaw/internal"
	"github.com/tinyland-inc/nanoclaw/cmd/nanoclaw/internal/chat"
	"github.com/tinyland-inc/nanoclaw/cmd/nanoclaw/internal/gateway"
	"github.com/tinyland-inc/nanoclaw/cmd/nanoclaw/internal/version"
)

func NewNanoclawCommand() *cobra.Command {
	short := fmt.Sprintf("%s nanoclaw - WhatsApp image bot v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "nanoclaw",
		Short:   short,
		Example: "nanoclaw gateway",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		chat.NewChatCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewNanoclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
