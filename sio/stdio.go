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

package sio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stdio is a simple coupling that reads one JSON message per line
// from In and writes one JSON message per line to Out.
type Stdio struct {
	Service *Service

	// In is coupled to service input.
	In io.Reader

	// Out is coupled to service output.
	Out io.Writer

	// EchoInput writes input lines (prefixed with "input") back to
	// the output.
	EchoInput bool

	// Tags prefixes output lines with their type ("out", "error").
	Tags bool
}

// NewStdio couples a service to stdin/stdout.
func NewStdio(s *Service) *Stdio {
	return &Stdio{
		Service: s,
		In:      os.Stdin,
		Out:     os.Stdout,
	}
}

func (c *Stdio) emit(tag string, x interface{}) error {
	bs, err := json.Marshal(x)
	if err != nil {
		return err
	}
	if c.Tags {
		fmt.Fprintf(c.Out, "%-5s ", tag)
	}
	_, err = fmt.Fprintf(c.Out, "%s\n", bs)
	return err
}

// Run reads lines until EOF (or ctx cancellation).
func (c *Stdio) Run(ctx context.Context) error {
	in := bufio.NewScanner(c.In)
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for in.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(in.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if c.EchoInput {
			fmt.Fprintf(c.Out, "input %s\n", line)
		}
		outs, err := c.Service.HandleLine(ctx, []byte(line))
		if err != nil {
			if e := c.emit("error", map[string]string{"error": err.Error()}); e != nil {
				return e
			}
			continue
		}
		for _, out := range outs {
			if err := c.emit("out", out); err != nil {
				return err
			}
		}
	}
	return in.Err()
}
