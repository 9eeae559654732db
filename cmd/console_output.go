package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// colour codes are resolved up front; messages are written verbatim so brackets in them survive
var codes = colorstring.Colorize{Colors: colorstring.DefaultColors, Reset: false}

// ConsoleWriter turns zerolog's JSON events into coloured, human readable lines
type ConsoleWriter struct {
	Out    io.Writer
	Debug  bool
	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{
		Out:   out,
		Debug: os.Getenv("BUILDSYS_DEBUG") != "",
	}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString(codes.Color("[red]"))
	case "warn":
		w.buffer.WriteString(codes.Color("[yellow]"))
	case "debug", "trace":
		w.buffer.WriteString(codes.Color("[blue]"))
	default:
		w.buffer.WriteString(codes.Color("[green]"))
	}

	if hook, ok := evt["hook"].(string); ok {
		w.buffer.WriteString(hook + ": ")
	} else if script, ok := evt["script"].(string); ok {
		w.buffer.WriteString(script + ": ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)

	if path, ok := evt["path"].(string); ok {
		// simplify the path
		wd, err := os.Getwd()
		if err == nil {
			var relPath string
			relPath, err = filepath.Rel(wd, path)
			if err == nil && !strings.HasPrefix(relPath, "..") {
				msg = strings.ReplaceAll(msg, path, relPath)
			}
		}
	}

	w.buffer.WriteString(msg)

	if errorDetails, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	if w.Debug {
		w.buffer.WriteString("\n")
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString(codes.Color("[reset]") + "\n")
	_, err = io.WriteString(w.Out, w.buffer.String())
	return len(p), err
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv("BUILDSYS_DEBUG") != "")
	}
}
