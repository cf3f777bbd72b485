// Mgmt
// Copyright (C) 2013-2026+ James Shubin and the project contributors
// Written by James Shubin <james@shubin.ca> and the project contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// iocctl hosts an ioc.Runtime as a standalone process: it onlines the
// Services named in a topology file, optionally publishes Prometheus
// metrics and Consul presence, and notifies systemd once ready.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/purpleidea/ioc"
	"github.com/purpleidea/ioc/metrics"
)

type args struct {
	Config           string `arg:"--config" help:"path to a service-topology JSON file to online and watch"`
	ConlesDepth      int    `arg:"--conles-depth" help:"queue depth of the private Conles bus"`
	MetricsListen    string `arg:"--metrics-listen" help:"address to serve Prometheus /metrics on, empty disables it"`
	DiscoveryAddress string `arg:"--discovery-address" help:"Consul HTTP address for service presence, empty disables it"`
}

func (args) Description() string {
	return "iocctl hosts an in-process IOC bus and reconciles it against a topology file."
}

func main() {
	var parsed args
	parsed.MetricsListen = metrics.DefaultMetricsListen
	arg.MustParse(&parsed)

	logger := log.New(os.Stderr, "iocctl: ", log.LstdFlags)
	logf := func(format string, v ...interface{}) { logger.Printf(format, v...) }

	rt, err := ioc.NewRuntime(ioc.RuntimeArgs{
		ConlesDepth:      parsed.ConlesDepth,
		Logf:             logf,
		MetricsListen:    parsed.MetricsListen,
		DiscoveryAddress: parsed.DiscoveryAddress,
		TopologyPath:     parsed.Config,
	})
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logf("sd_notify ready failed: %v", err)
	} else if ok {
		logf("notified systemd: ready")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logf("sd_notify stopping failed: %v", err)
	} else if ok {
		logf("notified systemd: stopping")
	}

	if err := rt.Shutdown(context.Background()); err != nil {
		logger.Fatalf("shutdown failed: %v", err)
	}
}
