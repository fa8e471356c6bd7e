package cluster

import (
	"fmt"
	"os"

	consul "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// ServiceInfo describes this instance for Consul.
type ServiceInfo struct {
	Name string
	Host string
	Port int
}

// ID returns the service ID, unique per host.
func (s ServiceInfo) ID() string {
	return fmt.Sprintf("%s-%s", s.Name, s.Host)
}

// Registration builds the agent registration with an HTTP health check on
// the instance's /health endpoint.
func Registration(info ServiceInfo) *consul.AgentServiceRegistration {
	if info.Host == "" {
		info.Host = hostname()
	}
	return &consul.AgentServiceRegistration{
		ID:   info.ID(),
		Name: info.Name,
		Port: info.Port,
		Tags: []string{"websocket"},
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", info.Host, info.Port),
			Timeout:                        "5s",
			Interval:                       "10s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

// Register registers info with the agent the manager is connected to and
// registers it again after every reconnect.
func Register(m *ConsulManager, info ServiceInfo) error {
	reg := Registration(info)
	register := func() error {
		client := m.GetClient()
		if client == nil {
			return fmt.Errorf("register %s: no consul client", reg.ID)
		}
		if err := client.Agent().ServiceRegister(reg); err != nil {
			return fmt.Errorf("register %s: %w", reg.ID, err)
		}
		return nil
	}
	if err := register(); err != nil {
		return err
	}
	m.OnReconnect(func() {
		if err := register(); err != nil {
			m.log.Error("re-register failed", zap.String("service", reg.ID), zap.Error(err))
		}
	})
	return nil
}

// Deregister removes info from the agent.
func Deregister(m *ConsulManager, info ServiceInfo) error {
	client := m.GetClient()
	if client == nil {
		return nil
	}
	if info.Host == "" {
		info.Host = hostname()
	}
	if err := client.Agent().ServiceDeregister(info.ID()); err != nil {
		return fmt.Errorf("deregister %s: %w", info.ID(), err)
	}
	return nil
}

func hostname() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	h, _ := os.Hostname()
	return h
}
