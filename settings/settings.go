package settings

import (
	"time"

	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/goldcoin/popnode/chaincfg"
)

func NewSettings() *Settings {
	network := getString("network", "mainnet")

	params, err := chaincfg.GetChainParams(network)
	if err != nil {
		panic(err)
	}

	blockVersion, err := safeconversion.IntToUint32(getInt("blockspace_blockVersion", 1))
	if err != nil {
		panic(err)
	}

	dataFolder := getString("dataFolder", "data")

	return &Settings{
		ClientName:         getString("clientName", "popnode"),
		DataFolder:         dataFolder,
		LogLevel:           getString("logLevel", "INFO"),
		HealthCheckAddr:    getString("healthCheckAddr", ""),
		PrometheusEndpoint: getString("prometheusEndpoint", "/metrics"),
		ChainCfgParams:     params,
		Chain: ChainSettings{
			Network:            network,
			CheckpointsEnabled: getBool("chain_checkpointsEnabled", true),
			CoinbaseText:       getString("chain_coinbaseText", "/popnode/"),
		},
		Store: StoreSettings{
			URL:              getURL("store", "leveldb:///"+dataFolder+"/chainstate"),
			ReadRetries:      getInt("store_readRetries", 3),
			ReadRetryBackoff: getDuration("store_readRetryBackoff", 100*time.Millisecond),
		},
		Mempool: MempoolSettings{
			MaxEntries:         getInt("mempool_maxEntries", 100_000),
			MaxSizeBytes:       getUint64("mempool_maxSizeBytes", 300*1024*1024),
			EntryExpiry:        getDuration("mempool_entryExpiry", 336*time.Hour),
			RejectedTxCacheTTL: getDuration("mempool_rejectedTxCacheTTL", 10*time.Minute),
		},
		BlockSpace: BlockSpaceSettings{
			StatsWindow:    getInt("blockspace_statsWindow", 144),
			BlockVersion:   blockVersion,
			TemplateMaxTxs: getInt("blockspace_templateMaxTxs", 0), // 0 is unlimited
		},
		Participation: ParticipationSettings{
			Enabled:      getBool("participation_enabled", false),
			PrivateKey:   getString("participation_privateKey", ""),
			PollInterval: getDuration("participation_pollInterval", time.Second),
			AdvertiseIP:  getString("participation_advertiseIP", ""),
		},
		P2P: P2PSettings{
			NodeID:           getString("p2p_nodeID", "popnode"),
			StaticPeers:      getMultiString("p2p_staticPeers", "|"),
			PingInterval:     getDuration("p2p_pingInterval", 30*time.Second),
			PeerTimeout:      getDuration("p2p_peerTimeout", 90*time.Second),
			BroadcastRetries: getInt("p2p_broadcastRetries", 3),
			BroadcastBackoff: getDuration("p2p_broadcastBackoff", 200*time.Millisecond),
			InboxSize:        getInt("p2p_inboxSize", 1024),
			BanThreshold:     getInt("p2p_banThreshold", 100),
			BanDuration:      getDuration("p2p_banDuration", 24*time.Hour),
		},
	}
}

// NewTestSettings returns settings for an isolated regtest node backed by an
// in-memory store.
func NewTestSettings() *Settings {
	s := NewSettings()
	s.ChainCfgParams = &chaincfg.RegressionNetParams
	s.Chain.Network = chaincfg.RegressionNetParams.Name
	s.Store.URL = getURL("store_test", "memory:///")
	s.Participation.PollInterval = 10 * time.Millisecond
	s.P2P.BroadcastBackoff = time.Millisecond

	return s
}
