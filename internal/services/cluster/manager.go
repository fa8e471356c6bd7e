package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	consul "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

const monitorInterval = 10 * time.Second

// ConsulManager keeps a client to a healthy Consul node out of a comma
// separated list, switching nodes when the current one loses its leader.
type ConsulManager struct {
	addrs       string
	currentAddr string
	client      *consul.Client
	mu          sync.RWMutex

	onReconnectCallbacks []func()
	log                  *zap.Logger
}

// NewConsulManager connects to the first node that reports a leader.
func NewConsulManager(addrs string, log *zap.Logger) (*ConsulManager, error) {
	m := &ConsulManager{
		addrs: addrs,
		log:   log.With(zap.String("component", "consul")),
	}
	if err := m.reconnect(); err != nil {
		return nil, err
	}
	return m, nil
}

// OnReconnect registers cb to run after every successful reconnect.
func (m *ConsulManager) OnReconnect(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnectCallbacks = append(m.onReconnectCallbacks, cb)
}

// GetClient returns the current client, or nil while disconnected.
func (m *ConsulManager) GetClient() *consul.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Check reports whether the current node still sees a leader.
func (m *ConsulManager) Check(context.Context) error {
	client := m.GetClient()
	if client == nil {
		return fmt.Errorf("no consul node available")
	}
	if _, err := client.Status().Leader(); err != nil {
		return fmt.Errorf("consul leader: %w", err)
	}
	return nil
}

func (m *ConsulManager) reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = nil
	for _, node := range strings.Split(m.addrs, ",") {
		nodeAddr := strings.TrimSpace(node)
		if nodeAddr == "" {
			continue
		}

		cfg := consul.DefaultConfig()
		cfg.Address = nodeAddr
		client, err := consul.NewClient(cfg)
		if err != nil {
			continue
		}
		if _, err := client.Status().Leader(); err != nil {
			m.log.Warn("node unavailable", zap.String("node", nodeAddr), zap.Error(err))
			continue
		}

		m.client = client
		m.currentAddr = nodeAddr
		m.log.Info("connected", zap.String("node", nodeAddr))
		for _, cb := range m.onReconnectCallbacks {
			go cb()
		}
		return nil
	}
	return fmt.Errorf("no reachable consul node in %q", m.addrs)
}

// Run checks the connection periodically and reconnects on failure until
// ctx is cancelled.
func (m *ConsulManager) Run(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := m.Check(ctx); err != nil {
			m.log.Warn("health check failed, reconnecting", zap.String("node", m.currentAddr), zap.Error(err))
			if err := m.reconnect(); err != nil {
				m.log.Error("reconnect failed", zap.Error(err))
			}
		}
	}
}
