package channel

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/stellarlinkco/triad/internal/bus"
	"github.com/stellarlinkco/triad/internal/config"
)

// Manager owns the enabled transports and wires outbound routing: each
// transport subscribes to the rooms it carries, the console mirrors
// everything.
type Manager struct {
	channels map[string]Channel
	console  *ConsoleChannel
	bus      *bus.MessageBus
}

func NewManager(cfg config.ChannelsConfig, b *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.add(ch)
	}

	if cfg.Console.Enabled {
		ch, err := NewConsoleChannel(cfg.Console, b)
		if err != nil {
			return nil, fmt.Errorf("init console channel: %w", err)
		}
		m.console = ch
		m.add(ch)
	}

	if len(m.channels) == 0 {
		return nil, fmt.Errorf("no channels enabled")
	}
	return m, nil
}

func (m *Manager) add(ch Channel) {
	m.channels[ch.Name()] = ch

	send := func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			log.Printf("[channel-mgr] send via %s failed: %v", ch.Name(), err)
		}
	}

	rooms := ch.Rooms()
	if len(rooms) == 0 {
		m.bus.SubscribeOutbound(bus.SubscribeAllChannels, send)
		return
	}
	for _, room := range rooms {
		m.bus.SubscribeOutbound(room, send)
	}
}

// Console returns the console transport when enabled, for probe wiring.
func (m *Manager) Console() *ConsoleChannel {
	return m.console
}

func (m *Manager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *Manager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
