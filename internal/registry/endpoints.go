package registry

const (
	RouterPathfinderBaseURL = "https://api-beta.pathfinder.routerprotocol.com/api"
	RouterDefaultPartnerID  = "1"

	LiFiBaseURL = "https://li.quest/v1"

	CoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
)
