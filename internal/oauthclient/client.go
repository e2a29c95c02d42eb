package oauthclient

import (
	"maps"
	"slices"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"golang.org/x/oauth2"
)

// Client is the OAuth client of one provider, ready to be mounted by an
// authorization code router.
type Client struct {
	name        string
	redirectURL string
	params      map[string]string
	rp          rp.RelyingParty
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) RedirectURL() string {
	return c.redirectURL
}

// AuthURL returns the authorization endpoint URL for state. The provider's
// additional params are appended in key order, followed by opts.
func (c *Client) AuthURL(state string, opts ...rp.AuthURLOpt) string {
	all := make([]rp.AuthURLOpt, 0, len(c.params)+len(opts))
	for _, k := range slices.Sorted(maps.Keys(c.params)) {
		all = append(all, rp.AuthURLOpt(rp.WithURLParam(k, c.params[k])))
	}
	all = append(all, opts...)

	return rp.AuthURL(state, c.rp, all...)
}

func (c *Client) OAuthConfig() *oauth2.Config {
	return c.rp.OAuthConfig()
}

func (c *Client) RelyingParty() rp.RelyingParty {
	return c.rp
}
