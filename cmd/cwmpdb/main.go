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

// cwmpdb inspects and populates the session engine's bbolt store.
//
//	cwmpdb -db acs.db -import provisions.yaml
//	cwmpdb -db acs.db -list
//	cwmpdb -db acs.db -html > provisions.html
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tr069/sessionengine/localcache"
	"github.com/tr069/sessionengine/tools"
)

func main() {
	var (
		dbFile     = flag.String("db", "cwmp.db", "bbolt database filename")
		importFile = flag.String("import", "", "YAML document to import")
		list       = flag.Bool("list", false, "list store contents")
		renderHTML = flag.Bool("html", false, "render provisions as HTML to stdout")
	)
	flag.Parse()

	store, err := localcache.Open(*dbFile)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if *importFile != "" {
		if err := store.ImportYAMLFile(*importFile); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("imported %s\n", *importFile)
	}

	ctx := context.Background()

	if *list {
		provisions, err := store.GetProvisionNames(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for _, name := range provisions {
			fmt.Printf("provision %s\n", name)
		}
		vparams, err := store.GetVirtualParameterNames(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for _, name := range vparams {
			fmt.Printf("virtualParameter %s\n", name)
		}
		presets, err := store.Presets()
		if err != nil {
			log.Fatal(err)
		}
		for _, p := range presets {
			fmt.Printf("preset %s channel=%s weight=%d schedule=%q\n", p.Name, p.Channel, p.Weight, p.Schedule)
		}
	}

	if *renderHTML {
		doc := &localcache.Document{
			Provisions:        map[string]string{},
			VirtualParameters: map[string]string{},
		}
		names, err := store.GetProvisionNames(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for _, name := range names {
			src, err := store.GetProvisionScript(ctx, name)
			if err != nil {
				log.Fatal(err)
			}
			doc.Provisions[name] = src
		}
		names, err = store.GetVirtualParameterNames(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for _, name := range names {
			src, err := store.GetVirtualParameterScript(ctx, name)
			if err != nil {
				log.Fatal(err)
			}
			doc.VirtualParameters[name] = src
		}
		if doc.Presets, err = store.Presets(); err != nil {
			log.Fatal(err)
		}
		if err := tools.RenderProvisionsHTML(doc, os.Stdout); err != nil {
			log.Fatal(err)
		}
	}
}
