package utils

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/serverledge-faas/fnscheduler/internal/config"
)

var etcdClient *clientv3.Client = nil
var clientMutex sync.Mutex

// GetEtcdClient returns the process-wide etcd client, connecting on first use.
func GetEtcdClient() (*clientv3.Client, error) {
	clientMutex.Lock()
	defer clientMutex.Unlock()

	// reuse client
	if etcdClient != nil {
		return etcdClient, nil
	}

	etcdHost := config.GetString(config.ETCD_ADDRESS, "localhost:2379")
	logrus.WithField("address", etcdHost).Info("Connecting to etcd")
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{etcdHost},
		DialTimeout: 3 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to etcd at %s", etcdHost)
	}

	etcdClient = cli
	return cli, nil
}
