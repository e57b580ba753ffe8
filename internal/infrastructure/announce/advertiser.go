package announce

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/config"
)

const defaultLookupTimeout = 3 * time.Second

// Advertiser answers mDNS queries for the controller until closed.
type Advertiser struct {
	service   *mdns.MDNSService
	server    *mdns.Server
	closeOnce sync.Once
}

// NewService builds the mDNS zone for the API listening on port. When ips
// is empty the addresses of the local host name are used.
func NewService(cfg config.MDNSConfig, port int, ips []net.IP, txt []string) (*mdns.MDNSService, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	service, err := mdns.NewMDNSService(cfg.Instance, cfg.Service, cfg.Domain, "", port, ips, txt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdvertiseFailed, err)
	}
	return service, nil
}

// Advertise starts answering queries for the controller's API.
func Advertise(cfg config.MDNSConfig, port int, txt []string) (*Advertiser, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	service, err := NewService(cfg, port, nil, txt)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("%w: starting server: %w", ErrAdvertiseFailed, err)
	}
	return &Advertiser{service: service, server: server}, nil
}

// Instance returns the advertised instance name.
func (a *Advertiser) Instance() string {
	return a.service.Instance
}

// Close stops answering queries. Safe to call more than once.
func (a *Advertiser) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.server.Shutdown()
	})
	return err
}

// Controller is one controller found by Lookup.
type Controller struct {
	Name    string
	Address string
	Port    int
	TXT     []string
}

// Lookup queries the LAN for advertised controllers, collecting answers
// until timeout or ctx ends. A zero timeout uses three seconds.
func Lookup(ctx context.Context, cfg config.MDNSConfig, timeout time.Duration) ([]Controller, error) {
	if timeout == 0 {
		timeout = defaultLookupTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan error, 1)
	go func() {
		defer close(entries)
		done <- mdns.Query(&mdns.QueryParam{
			Service:     cfg.Service,
			Domain:      cfg.Domain,
			Timeout:     timeout,
			Entries:     entries,
			DisableIPv6: true,
		})
	}()

	seen := make(map[string]bool)
	var found []Controller
	for {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		case entry, ok := <-entries:
			if !ok {
				return found, <-done
			}
			c, valid := controllerFromEntry(entry)
			if !valid || seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			found = append(found, c)
		}
	}
}

func controllerFromEntry(entry *mdns.ServiceEntry) (Controller, bool) {
	if entry == nil {
		return Controller{}, false
	}
	var address string
	switch {
	case entry.AddrV4 != nil:
		address = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		address = fmt.Sprintf("[%s]", entry.AddrV6.String())
	default:
		return Controller{}, false
	}
	return Controller{
		Name:    entry.Name,
		Address: address,
		Port:    entry.Port,
		TXT:     entry.InfoFields,
	}, true
}
