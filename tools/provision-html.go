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

// Package tools renders provision documents for an admin surface.
package tools

import (
	"fmt"
	"html"
	"io"
	"sort"
	"strings"

	"github.com/tr069/sessionengine/localcache"
	"github.com/tr069/sessionengine/util/testutil"

	md "github.com/russross/blackfriday/v2"
)

// scriptDoc extracts the leading // comment block of a script as its
// (Markdown) documentation.
func scriptDoc(src string) string {
	var doc []string
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "//") {
			break
		}
		doc = append(doc, strings.TrimSpace(strings.TrimPrefix(trimmed, "//")))
	}
	return strings.Join(doc, "\n")
}

// RenderProvisionsHTML writes an HTML rendering of a provision
// document: scripts with their doc comments rendered as Markdown,
// and presets with their schedules and provision lists.
func RenderProvisionsHTML(doc *localcache.Document, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	renderScripts := func(title string, scripts map[string]string) {
		if len(scripts) == 0 {
			return
		}
		f(`<div class="scripts"><h2>%s</h2><table>`, title)
		names := make([]string, 0, len(scripts))
		for name := range scripts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			src := scripts[name]
			f(`<tr class="script"><td><span id="%s" class="scriptName">%s</span></td><td>`,
				html.EscapeString(name), html.EscapeString(name))
			if d := scriptDoc(src); d != "" {
				f(`<div class="scriptDoc doc">%s</div>`, md.Run([]byte(d)))
			}
			f(`<div class="code"><pre>%s</pre></div>`, html.EscapeString(src))
			f(`</td></tr>`)
		}
		f(`</table></div>`)
	}

	renderScripts("Provisions", doc.Provisions)
	renderScripts("Virtual parameters", doc.VirtualParameters)

	if len(doc.Presets) > 0 {
		f(`<div class="presets"><h2>Presets</h2><table>`)
		f(`<tr><th>name</th><th>channel</th><th>weight</th><th>schedule</th><th>provisions</th></tr>`)
		for _, p := range doc.Presets {
			f(`<tr class="preset"><td>%s</td><td>%s</td><td>%d</td><td><code>%s</code></td><td><code>%s</code></td></tr>`,
				html.EscapeString(p.Name),
				html.EscapeString(p.Channel),
				p.Weight,
				html.EscapeString(p.Schedule),
				html.EscapeString(testutil.JS(p.Provisions)))
		}
		f(`</table></div>`)
	}

	return nil
}
