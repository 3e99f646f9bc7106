package market

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
)

// makerDirPrefix namespaces every Maker registration key so ListMakers
// can recover the whole directory with a single ranged Get.
const makerDirPrefix = "/coinswap/makers/"

// makerLeaseTTL bounds how long a Maker's registration survives without
// a keepalive, the same self-expiring pattern lnd's etcd-backed cluster
// leader election relies on.
const makerLeaseTTL = 60

// EtcdDirectoryClient implements DirectoryClient against a shared etcd
// cluster: every Maker holds a leased key under makerDirPrefix and lets
// etcd expire stale entries, so a Taker's ListMakers never needs to
// separately prune dead peers.
type EtcdDirectoryClient struct {
	cli     *clientv3.Client
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

// NewEtcdDirectoryClient dials the etcd cluster at the given endpoints.
func NewEtcdDirectoryClient(endpoints []string, dialTimeout time.Duration) (*EtcdDirectoryClient, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}
	return &EtcdDirectoryClient{cli: cli}, nil
}

func (c *EtcdDirectoryClient) Start() error { return nil }

func (c *EtcdDirectoryClient) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return c.cli.Close()
}

func (c *EtcdDirectoryClient) ListMakers(ctx context.Context) ([]swap.MakerAddress, error) {
	resp, err := c.cli.Get(ctx, makerDirPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}

	makers := make([]swap.MakerAddress, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var addr swap.MakerAddress
		if err := json.Unmarshal(kv.Value, &addr); err != nil {
			log.Warnf("skipping malformed maker entry %s: %v", kv.Key, err)
			continue
		}
		makers = append(makers, addr)
	}
	return makers, nil
}

// PostAddress grants a makerLeaseTTL-second lease, writes addr under it,
// and starts a background keepalive so the entry survives for as long as
// this process runs.
func (c *EtcdDirectoryClient) PostAddress(ctx context.Context, addr swap.MakerAddress) error {
	lease, err := c.cli.Grant(ctx, makerLeaseTTL)
	if err != nil {
		return coinswaperr.Wrap(err)
	}
	c.leaseID = lease.ID

	payload, err := json.Marshal(addr)
	if err != nil {
		return err
	}

	key := makerDirPrefix + addr.Host
	if _, err := c.cli.Put(ctx, key, string(payload), clientv3.WithLease(lease.ID)); err != nil {
		return coinswaperr.Wrap(err)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	keepAlive, err := c.cli.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		return coinswaperr.Wrap(err)
	}

	go func() {
		for range keepAlive {
			// drain; etcd requires the channel be consumed to keep
			// the lease alive.
		}
	}()

	return nil
}
