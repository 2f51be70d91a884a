package settings

import (
	"net/url"
	"time"

	"github.com/goldcoin/popnode/chaincfg"
)

type ChainSettings struct {
	Network            string
	CheckpointsEnabled bool
	CoinbaseText       string
}

type StoreSettings struct {
	URL              *url.URL
	ReadRetries      int
	ReadRetryBackoff time.Duration
}

type MempoolSettings struct {
	MaxEntries         int
	MaxSizeBytes       uint64
	EntryExpiry        time.Duration
	RejectedTxCacheTTL time.Duration
}

type BlockSpaceSettings struct {
	StatsWindow    int
	BlockVersion   uint32
	TemplateMaxTxs int
}

type ParticipationSettings struct {
	Enabled      bool
	PrivateKey   string
	PollInterval time.Duration
	AdvertiseIP  string
}

type P2PSettings struct {
	NodeID           string
	StaticPeers      []string
	PingInterval     time.Duration
	PeerTimeout      time.Duration
	BroadcastRetries int
	BroadcastBackoff time.Duration
	InboxSize        int
	BanThreshold     int
	BanDuration      time.Duration
}

type Settings struct {
	ClientName         string
	DataFolder         string
	LogLevel           string
	HealthCheckAddr    string
	PrometheusEndpoint string
	ChainCfgParams     *chaincfg.Params
	Chain              ChainSettings
	Store              StoreSettings
	Mempool            MempoolSettings
	BlockSpace         BlockSpaceSettings
	Participation      ParticipationSettings
	P2P                P2PSettings
}
