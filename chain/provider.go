package chain

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vitwit/x402-facilitator/types"
)

// Default RPC endpoints per network. The base mainnet entry points at a
// dedicated upstream because the public default provider is too slow
// for back-to-back settlement and distribution submissions.
var defaultRPCURLs = map[types.Network]string{
	types.NetworkBase:        "https://base-mainnet.g.alchemy.com/v2/ClOKwqeAGcaXIYc2YcP61",
	types.NetworkBaseSepolia: "https://sepolia.base.org",
}

// Provider produces read/write capable clients per network. Dialed
// clients are cached; ethclient connections are safe for concurrent
// use.
type Provider struct {
	mu      sync.Mutex
	rpcURLs map[types.Network]string
	clients map[types.Network]*ethclient.Client
}

func NewProvider(overrides map[types.Network]string) *Provider {
	urls := make(map[types.Network]string, len(defaultRPCURLs))
	for network, url := range defaultRPCURLs {
		urls[network] = url
	}
	for network, url := range overrides {
		if url != "" {
			urls[network] = url
		}
	}
	return &Provider{
		rpcURLs: urls,
		clients: make(map[types.Network]*ethclient.Client),
	}
}

// GetClient returns a client for the network. The returned Backend
// serves contract reads, transaction submission and gas suggestions.
func (p *Provider) GetClient(network types.Network) (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[network]; ok {
		return client, nil
	}

	url, ok := p.rpcURLs[network]
	if !ok {
		return nil, &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", network),
		}
	}

	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", network, err)
	}

	p.clients[network] = client
	return client, nil
}

// Close closes all dialed clients.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for network, client := range p.clients {
		client.Close()
		delete(p.clients, network)
	}
}
