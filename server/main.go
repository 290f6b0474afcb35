/**
 * Jingle signaling gateway for multi-party meetings.
 * Copyright (C) 2025 struktur AG
 *
 * @author Joachim Bauch <bauch@struktur.de>
 *
 * @license GNU AGPL version 3 or any later version
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	runtimepprof "runtime/pprof"
	"sync"
	"syscall"
	"time"

	"github.com/dlintw/goconf"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/strukturag/meet-signaling/internal"
	"github.com/strukturag/meet-signaling/log"
	"github.com/strukturag/meet-signaling/meet"
	sfujanus "github.com/strukturag/meet-signaling/sfu/janus"
)

var (
	version = "unreleased"

	configFlag = flag.String("config", "server.conf", "config file to use")

	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")

	memprofile = flag.String("memprofile", "", "write memory profile to file")

	showVersion = flag.Bool("version", false, "show version and quit")
)

const (
	defaultReadTimeout  = 15
	defaultWriteTimeout = 30

	initialSfuRetry = time.Second
	maxSfuRetry     = time.Second * 16

	sfuTypeJanus = "janus"
)

func createListener(addr string) (net.Listener, error) {
	if addr[0] == '/' {
		os.Remove(addr)
		return net.Listen("unix", addr)
	}

	return net.Listen("tcp", addr)
}

func createTLSListener(addr string, certFile, keyFile string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	config := tls.Config{
		Certificates: []tls.Certificate{cert},
	}
	if addr[0] == '/' {
		os.Remove(addr)
		return tls.Listen("unix", addr, &config)
	}

	return tls.Listen("tcp", addr, &config)
}

type Listeners struct {
	log       *zap.Logger
	mu        sync.Mutex
	listeners []net.Listener
}

func newListeners(log *zap.Logger) *Listeners {
	return &Listeners{
		log: log,
	}
}

func (l *Listeners) Add(listener net.Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.listeners = append(l.listeners, listener)
}

func (l *Listeners) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, listener := range l.listeners {
		if err := listener.Close(); err != nil {
			l.log.Error("Error closing listener",
				zap.Any("addr", listener.Addr()),
				zap.Error(err),
			)
		}
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("meet-signaling version %s/%s\n", version, runtime.Version())
		os.Exit(0)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	signal.Notify(sigChan, syscall.SIGHUP)
	signal.Notify(sigChan, syscall.SIGUSR1)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("%s\n", err)
			os.Exit(1)
		}

		if err := runtimepprof.StartCPUProfile(f); err != nil {
			fmt.Printf("Error writing CPU profile to %s: %s\n", *cpuprofile, err)
			os.Exit(1)
		}
		fmt.Printf("Writing CPU profile to %s ...\n", *cpuprofile)
		defer runtimepprof.StopCPUProfile()
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Printf("%s\n", err)
			os.Exit(1)
		}

		defer func() {
			fmt.Printf("Writing Memory profile to %s ...\n", *memprofile)
			runtime.GC()
			if err := runtimepprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("Error writing Memory profile to %s: %s\n", *memprofile, err)
				os.Exit(1)
			}
		}()
	}

	fmt.Printf("Starting up version %s/%s as pid %d\n", version, runtime.Version(), os.Getpid())

	config, err := goconf.ReadConfigFile(*configFlag)
	if err != nil {
		fmt.Printf("Could not read configuration: %s\n", err)
		os.Exit(1)
	}

	var logConfig zap.Config
	if debug, _ := config.GetBool("app", "debug"); debug {
		logConfig = zap.NewDevelopmentConfig()
	} else {
		logConfig = zap.NewProductionConfig()
		logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zaplog, err := logConfig.Build(
		// Only log stack traces when panicing.
		zap.AddStacktrace(zap.DPanicLevel),
	)
	if err != nil {
		fmt.Printf("Could not create logger: %s\n", err)
		os.Exit(1)
	}

	restoreGlobalLogs := zap.ReplaceGlobals(zaplog)
	defer restoreGlobalLogs()

	cpus := runtime.NumCPU()
	runtime.GOMAXPROCS(cpus)
	zaplog.Debug("Using number of CPUs",
		zap.Int("cpus", cpus),
	)

	meet.RegisterMeetStats()
	sfujanus.RegisterJanusSfuStats()

	ctx := log.NewLoggerContext(context.Background(), zap.NewStdLog(zaplog))

	sfuUrl, _ := config.GetString("sfu", "url")
	sfuType, _ := config.GetString("sfu", "type")
	if sfuType == "" {
		sfuType = sfuTypeJanus
	}
	if sfuType != sfuTypeJanus {
		zaplog.Fatal("Unsupported SFU type",
			zap.String("type", sfuType),
		)
	}
	if sfuUrl == "" {
		zaplog.Fatal("The SFU url must be configured")
	}

	sfuConn, err := sfujanus.NewJanusSFU(ctx, sfuUrl, config)
	if err != nil {
		zaplog.Fatal("Could not create SFU connection",
			zap.Error(err),
		)
	}

	sfuRetry := initialSfuRetry
	sfuRetryTimer := time.NewTimer(sfuRetry)
	for {
		if err := sfuConn.Start(ctx); err == nil {
			break
		} else {
			zaplog.Error("Could not connect to SFU, will retry",
				zap.String("url", sfuUrl),
				zap.Duration("wait", sfuRetry),
				zap.Error(err),
			)
		}

		sfuRetryTimer.Reset(sfuRetry)
		select {
		case sig := <-sigChan:
			if sig == os.Interrupt {
				zaplog.Fatal("Cancelled")
			}
		case <-sfuRetryTimer.C:
			// Retry connection
			sfuRetry = sfuRetry * 2
			if sfuRetry > maxSfuRetry {
				sfuRetry = maxSfuRetry
			}
		}
	}
	defer sfuConn.Stop()

	zaplog.Info("Connected to SFU",
		zap.String("url", sfuUrl),
	)

	r := mux.NewRouter()
	gateway, err := NewGateway(ctx, config, sfuConn, r, version)
	if err != nil {
		zaplog.Fatal("Could not create gateway",
			zap.Error(err),
		)
	}

	if debug, _ := config.GetBool("app", "debug"); debug {
		zaplog.Debug("Installing debug handlers in \"/debug/pprof\"")
		r.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
		r.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
		r.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
		r.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
		r.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
		for _, profile := range runtimepprof.Profiles() {
			name := profile.Name()
			r.Handle("/debug/pprof/"+name, pprof.Handler(name))
		}
	}

	listeners := newListeners(zaplog)
	defer listeners.Close()

	if saddr, _ := config.GetString("https", "listen"); saddr != "" {
		cert, _ := config.GetString("https", "certificate")
		key, _ := config.GetString("https", "key")
		if cert == "" || key == "" {
			zaplog.Fatal("Need a certificate and key for the HTTPS listener")
		}

		readTimeout, _ := config.GetInt("https", "readtimeout")
		if readTimeout <= 0 {
			readTimeout = defaultReadTimeout
		}
		writeTimeout, _ := config.GetInt("https", "writetimeout")
		if writeTimeout <= 0 {
			writeTimeout = defaultWriteTimeout
		}
		for address := range internal.SplitEntries(saddr, " ") {
			go func(address string) {
				zaplog := zaplog.With(zap.String("addr", address))
				zaplog.Debug("Listening")
				listener, err := createTLSListener(address, cert, key)
				if err != nil {
					zaplog.Fatal("Could not start listening",
						zap.Error(err),
					)
				}
				srv := &http.Server{
					Handler: r,

					ReadTimeout:  time.Duration(readTimeout) * time.Second,
					WriteTimeout: time.Duration(writeTimeout) * time.Second,
				}
				listeners.Add(listener)
				if err := srv.Serve(listener); err != nil {
					if !gateway.IsShutdownScheduled() || !errors.Is(err, net.ErrClosed) {
						zaplog.Fatal("Could not start server",
							zap.Error(err),
						)
					}
				}
			}(address)
		}
	}

	if addr, _ := config.GetString("http", "listen"); addr != "" {
		readTimeout, _ := config.GetInt("http", "readtimeout")
		if readTimeout <= 0 {
			readTimeout = defaultReadTimeout
		}
		writeTimeout, _ := config.GetInt("http", "writetimeout")
		if writeTimeout <= 0 {
			writeTimeout = defaultWriteTimeout
		}

		for address := range internal.SplitEntries(addr, " ") {
			go func(address string) {
				zaplog := zaplog.With(zap.String("addr", address))
				zaplog.Debug("Listening")
				listener, err := createListener(address)
				if err != nil {
					zaplog.Fatal("Could not start listening",
						zap.Error(err),
					)
				}
				srv := &http.Server{
					Handler: r,
					Addr:    addr,

					ReadTimeout:  time.Duration(readTimeout) * time.Second,
					WriteTimeout: time.Duration(writeTimeout) * time.Second,
				}
				listeners.Add(listener)
				if err := srv.Serve(listener); err != nil {
					if !gateway.IsShutdownScheduled() || !errors.Is(err, net.ErrClosed) {
						zaplog.Fatal("Could not start server",
							zap.Error(err),
						)
					}
				}
			}(address)
		}
	}

loop:
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case os.Interrupt:
				zaplog.Debug("Interrupted")
				break loop
			case syscall.SIGHUP:
				zaplog.Info("Received SIGHUP, reloading",
					zap.String("filename", *configFlag),
				)
				if config, err := goconf.ReadConfigFile(*configFlag); err != nil {
					zaplog.Error("Could not read configuration",
						zap.String("filename", *configFlag),
						zap.Error(err),
					)
				} else {
					gateway.Reload(config)
				}
			case syscall.SIGUSR1:
				zaplog.Info("Received SIGUSR1, scheduling server to shutdown")
				gateway.ScheduleShutdown()
				listeners.Close()
			}
		case <-gateway.ShutdownChannel():
			zaplog.Info("All clients disconnected, shutting down")
			break loop
		}
	}
}
