/* Copyright 2026 The CWMP Session Engine Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// cwmpio runs the session engine service over stdio, WebSockets, or
// MQTT.
//
// Example:
//
//	cwmpio -db acs.db
//	cwmpio -db acs.db -ws :8080
//	cwmpio -db acs.db -mqtt tcp://localhost:1883 -sub cwmp/in -pub cwmp/out
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tr069/sessionengine/localcache"
	gojasandbox "github.com/tr069/sessionengine/sandbox/goja"
	"github.com/tr069/sessionengine/sio"
	"github.com/tr069/sessionengine/util"
)

func main() {
	var (
		dbFile     = flag.String("db", "cwmp.db", "bbolt database filename")
		importYAML = flag.String("import", "", "optional YAML document to import before serving")
		wsAddr     = flag.String("ws", "", "serve WebSockets on this address (e.g. :8080)")
		wsPath     = flag.String("ws-path", "/cwmp", "WebSocket endpoint path")
		mqBroker   = flag.String("mqtt", "", "MQTT broker (e.g. tcp://localhost:1883)")
		mqSub      = flag.String("sub", "cwmp/in", "MQTT subscription topic")
		mqPub      = flag.String("pub", "cwmp/out", "MQTT publication topic")
		mqId       = flag.String("i", "", "MQTT client id")
		mqUser     = flag.String("u", "", "MQTT username")
		mqPass     = flag.String("P", "", "MQTT password")
		echo       = flag.Bool("echo", false, "echo stdio input")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	util.Logging = *verbose

	store, err := localcache.Open(*dbFile)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if *importYAML != "" {
		if err := store.ImportYAMLFile(*importYAML); err != nil {
			log.Fatal(err)
		}
	}

	service := sio.NewService(store, gojasandbox.NewSandbox(store))
	service.Presets = store.Presets

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case *wsAddr != "":
		srv := sio.NewWebSocketServer(service)
		log.Printf("serving WebSockets on %s%s", *wsAddr, *wsPath)
		if err := srv.ListenAndServe(ctx, *wsAddr, *wsPath); err != nil {
			log.Fatal(err)
		}
	case *mqBroker != "":
		c, err := sio.NewMQTTCouplings(service, &sio.MQTTOptions{
			Broker:   *mqBroker,
			ClientId: *mqId,
			UserName: *mqUser,
			Password: *mqPass,
			SubTopic: *mqSub,
			PubTopic: *mqPub,
		})
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("coupled to MQTT broker %s (%s -> %s)", *mqBroker, *mqSub, *mqPub)
		if err := c.Start(ctx); err != nil && err != context.Canceled {
			log.Fatal(err)
		}
	default:
		c := sio.NewStdio(service)
		c.EchoInput = *echo
		if err := c.Run(ctx); err != nil && err != context.Canceled {
			log.Fatal(err)
		}
	}
}
