package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/oidc-provider-manager/internal/business"
	"github.com/openkcm/oidc-provider-manager/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Provider Manager migrations",
		"Applies the provider store migrations to the configured PostgreSQL or SQLite database",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
