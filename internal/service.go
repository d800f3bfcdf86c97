package internal

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/airlookjs/mediainfo/internal/api"
	"github.com/airlookjs/mediainfo/internal/cache"
	"github.com/airlookjs/mediainfo/internal/mediainfo"
	"github.com/airlookjs/mediainfo/internal/metrics"
	"github.com/airlookjs/mediainfo/internal/resolver"
	"github.com/airlookjs/mediainfo/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// Service represents the top-level object for the server, and is
	// responsible for assembling the resolver from the configuration and
	// for running the REST gateway in front of it.
	Service struct {
		config      *Config
		analyzer    *mediainfo.CommandAnalyzer
		resolver    *resolver.Resolver
		restGateway *api.RestGateway
	}
)

func New(config *Config) (*Service, error) {
	logger.SetMinLoggingLevel(logger.ParseLevel(config.LogLevel).Level())
	log.Emit(logger.DEBUG, "Bootstrapping mediainfo services using config: %#v\n", config)

	resolverConfig, err := config.ResolverConfig()
	if err != nil {
		return nil, err
	}
	for _, s := range resolverConfig.Shares {
		log.Emit(logger.INFO, "Using %s\n", s)
	}

	var recorder resolver.Recorder
	if config.RestConfig.MetricsEnabled {
		recorder = metrics.NewRecorder()
	}

	analyzer := mediainfo.New(config.MediaInfo)
	res := resolver.New(resolverConfig, analyzer, cache.New(), recorder)

	return &Service{
		config:      config,
		analyzer:    analyzer,
		resolver:    res,
		restGateway: api.NewRestGateway(&config.RestConfig, res, resolverConfig.Shares),
	}, nil
}

// Resolver exposes the request resolver, for use outside of HTTP.
func (service *Service) Resolver() *resolver.Resolver {
	return service.resolver
}

// Run will start the REST gateway, and will not return until it has
// stopped. To stop the service, the provided context must be cancelled.
// Errors from which the gateway cannot recover will also cause the
// service to stop.
func (service *Service) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if version, err := service.analyzer.Version(ctx); err != nil {
		log.Warnf("Unable to query %s version: %s\n", service.analyzer, err)
	} else {
		log.Infof("Using %s\n", version)
	}

	var crashErr error
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		crashErr = fmt.Errorf("%s: %w", label, err)
		cancel()
	}

	if err := service.restGateway.Listen(); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	service.spawnAsyncService(ctx, wg, service.restGateway, "rest-gateway", crashHandler)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = service.config.RestConfig.HostAddr
	}
	log.Emit(logger.SUCCESS, "MediaInfo %s scanner listening on %s:%d\n", service.config.Version, hostname, listenerPort(service.restGateway.ListenerAddr(), service.config.RestConfig.Port))

	wg.Wait()
	return crashErr
}

// spawnAsyncService will run the provided service as it's own
// go-routine, ensuring that the waitgroup is updated correctly
func (service *Service) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, runnable RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := runnable.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

// listenerPort is the port actually bound, which differs from the
// configured one when that is 0.
func listenerPort(addr net.Addr, fallback int) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}

	return fallback
}
