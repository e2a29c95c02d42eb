package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/oidc-provider-manager/internal/business"
	"github.com/openkcm/oidc-provider-manager/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Provider Manager API server",
		"Provider Manager API server hosts the OIDC provider admin API and the login routes",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
