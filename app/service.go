// Package app wires the configured grids, buses, serial ports and telemetry
// into one runnable service.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/groengemak/solgrid/config"
	"github.com/groengemak/solgrid/core/bus"
	"github.com/groengemak/solgrid/core/grid"
	coremetrics "github.com/groengemak/solgrid/core/metrics"
	"github.com/groengemak/solgrid/core/modbus"
	"github.com/groengemak/solgrid/drivers"
	"github.com/groengemak/solgrid/infra/logger"
	"github.com/groengemak/solgrid/infra/metrics"
	"github.com/groengemak/solgrid/infra/mqtt"
	"github.com/groengemak/solgrid/infra/serial"
)

// Service owns the full device tree: registry, grids, buses, serial ports
// and the telemetry publisher.
type Service struct {
	Registry *grid.Registry

	cfg       *config.Config
	log       logger.Logger
	buses     []*bus.Bus
	ports     []*serial.Port
	publisher *mqtt.Publisher
	sink      coremetrics.Sink
}

// New builds the service from configuration. Serial ports are opened here;
// polling starts in Run.
func New(cfg *config.Config) (*Service, error) {
	applyLogLevel(cfg.Logging.Level)
	log := logger.New("service")

	sink, err := buildSink(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	registry := grid.NewRegistry(grid.Options{
		CapacityW: 1,
		Logger:    logger.New("grid"),
		Metrics:   sink,
	})
	grids := make(map[string]*grid.Grid, len(cfg.Grids))
	for _, gc := range cfg.Grids {
		g := grid.New(gc.Name, grid.Options{
			CapacityW:  gc.CapacityW,
			Period:     time.Duration(gc.PeriodSeconds) * time.Second,
			Confidence: gc.Confidence,
			Horizon:    gc.Horizon,
			Logger:     logger.New("grid-" + gc.Name),
			Metrics:    sink,
		})
		registry.Put(g)
		grids[gc.Name] = g
	}

	svc := &Service{Registry: registry, cfg: cfg, log: log, sink: sink}
	for _, bc := range cfg.Buses {
		port, err := serial.Open(bc.Serial)
		if err != nil {
			svc.closePorts()
			return nil, fmt.Errorf("open port for bus %s: %w", bc.Name, err)
		}
		svc.ports = append(svc.ports, port)

		transport := modbus.NewTransport(port, logger.New("modbus-"+bc.Name))
		client := modbus.NewClient(transport)
		b := bus.New(bc.Name, grids[bc.Grid], bus.Options{
			Logger:  logger.New("bus-" + bc.Name),
			Metrics: sink,
		})
		for _, dc := range bc.Devices {
			kind, err := drivers.ParseKind(dc.Kind)
			if err != nil {
				svc.closePorts()
				return nil, fmt.Errorf("bus %s device %s: %w", bc.Name, dc.Name, err)
			}
			dev := drivers.NewRegisterDevice(client, dc.Slave, kind, dc.Register, dc.Scale)
			if err := b.AddDevice(dc.Name, dev); err != nil {
				svc.closePorts()
				return nil, err
			}
		}
		svc.buses = append(svc.buses, b)
	}

	if cfg.MQTT.Enabled() {
		pub, err := mqtt.New(cfg.MQTT)
		if err != nil {
			svc.closePorts()
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		svc.publisher = pub
	}
	return svc, nil
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func buildSink(cfg config.MetricsConfig) (coremetrics.Sink, error) {
	var sinks []coremetrics.Sink
	if cfg.Prometheus.Enabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Influx.URL != "" {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket))
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return metrics.NewMultiSink(sinks...), nil
	}
}

// Run starts the poll loops and telemetry bridges and blocks until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if s.cfg.Metrics.Prometheus.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.Prometheus.Address); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	for _, b := range s.buses {
		wg.Add(1)
		go func(b *bus.Bus) {
			defer wg.Done()
			if err := b.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorf("bus %s: %v", b.Name(), err)
			}
		}(b)
	}

	if s.publisher != nil {
		for _, name := range s.Registry.Names() {
			g := s.Registry.Get(name)
			wg.Add(2)
			go func(g *grid.Grid) {
				defer wg.Done()
				s.bridgeClaimEvents(ctx, g)
			}(g)
			go func(g *grid.Grid) {
				defer wg.Done()
				s.publishBalance(ctx, g)
			}(g)
		}
	}

	s.log.Infof("service running: %d grids, %d buses", len(s.Registry.Names()), len(s.buses))
	<-ctx.Done()
	wg.Wait()
	return nil
}

// bridgeClaimEvents forwards claim lifecycle events to MQTT until the
// context ends or the grid closes its event bus.
func (s *Service) bridgeClaimEvents(ctx context.Context, g *grid.Grid) {
	events := g.Events().Subscribe()
	defer g.Events().Unsubscribe(events)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.publisher.PublishClaimEvent(ev); err != nil {
				s.log.Errorf("claim telemetry: %v", err)
			}
		}
	}
}

// publishBalance reports the grid's observed balance once per period.
func (s *Service) publishBalance(ctx context.Context, g *grid.Grid) {
	ticker := time.NewTicker(g.Period())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := grid.BalanceEvent{Grid: g.Name(), Watts: g.Balance(), Time: time.Now()}
			if err := s.publisher.PublishBalance(ev); err != nil {
				s.log.Errorf("balance telemetry: %v", err)
			}
		}
	}
}

func (s *Service) closePorts() {
	for _, p := range s.ports {
		if err := p.Close(); err != nil {
			s.log.Errorf("close port: %v", err)
		}
	}
	s.ports = nil
}

// Close releases the ports, the broker connection and the grids.
func (s *Service) Close() error {
	if s.publisher != nil {
		s.publisher.Disconnect()
	}
	s.closePorts()
	s.Registry.Reset()
	return nil
}
