package providers

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/oidc-provider-manager/internal/business"
	"github.com/openkcm/oidc-provider-manager/internal/cmdutils"
)

// Cmd groups the provider store subcommands.
func Cmd(buildInfo string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect stored OIDC providers",
	}

	cmd.AddCommand(cmdutils.CobraCommand(
		"list",
		"List stored OIDC providers",
		"Prints the stored OIDC providers as YAML. Client credentials are never printed.",
		buildInfo,
		cmdutils.RunAsJob,
		business.ProvidersListMain,
	))

	return cmd
}
