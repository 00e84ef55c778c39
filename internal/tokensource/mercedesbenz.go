package tokensource

import (
	"golang.org/x/oauth2"
)

// Endpoint defines the OAuth2 endpoints of the Mercedes-Benz identity
// provider. The id provider expects client credentials in the request body,
// not in an Authorization header.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://id.mercedes-benz.com/as/authorization.oauth2",
	TokenURL:  "https://id.mercedes-benz.com/as/token.oauth2",
	AuthStyle: oauth2.AuthStyleInParams,
}

// DefaultScopes requests offline access (the refresh token) plus every
// vehicle data category the exporter knows how to map.
var DefaultScopes = []string{
	"offline_access",
	"mb:vehicle:mbdata:evstatus",
	"mb:vehicle:mbdata:fuelstatus",
	"mb:vehicle:mbdata:payasyoudrive",
	"mb:vehicle:mbdata:vehiclelock",
	"mb:vehicle:mbdata:vehiclestatus",
}
