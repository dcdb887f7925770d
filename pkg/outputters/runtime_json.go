package outputters

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/praetorian-inc/janus-framework/pkg/chain"
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"
)

// NamedOutputData wraps a value together with the file it should be written
// to, so links can pick output paths at runtime.
type NamedOutputData struct {
	OutputFilename string
	Data           any
}

func NewNamedOutputData(data any, filename string) NamedOutputData {
	return NamedOutputData{OutputFilename: filename, Data: data}
}

const defaultOutfile = "out.json"

// RuntimeJSONOutputter allows specifying the output file at runtime rather
// than at initialization time.
type RuntimeJSONOutputter struct {
	*chain.BaseOutputter
	indent  int
	output  []any
	outfile string
}

func NewRuntimeJSONOutputter(configs ...cfg.Config) chain.Outputter {
	j := &RuntimeJSONOutputter{}
	j.BaseOutputter = chain.NewBaseOutputter(j, configs...)
	return j
}

func (j *RuntimeJSONOutputter) Initialize() error {
	outfile, err := cfg.As[string](j.Arg("jsonoutfile"))
	if err != nil {
		outfile = defaultOutfile
	}
	j.outfile = outfile

	indent, err := cfg.As[int](j.Arg("indent"))
	if err != nil {
		indent = 0
	}
	j.indent = indent

	slog.Debug("initialized runtime JSON outputter", "default_file", j.outfile, "indent", j.indent)
	return nil
}

// Output stores a value in memory for later writing. NamedOutputData values
// may redirect the output file if no explicit file was configured. Console
// tables belong to MarkdownTableConsoleOutputter and are not persisted.
func (j *RuntimeJSONOutputter) Output(val any) error {
	switch v := val.(type) {
	case MarkdownTable:
		return nil
	case NamedOutputData:
		if v.OutputFilename != "" && j.outfile == defaultOutfile {
			j.SetOutputFile(v.OutputFilename)
		}
		j.output = append(j.output, v.Data)
	default:
		j.output = append(j.output, val)
	}
	return nil
}

func (j *RuntimeJSONOutputter) SetOutputFile(filename string) {
	j.outfile = filename
	slog.Debug("changed JSON output file", "filename", filename)
}

// Complete writes all stored outputs to the specified file, creating parent
// directories as needed.
func (j *RuntimeJSONOutputter) Complete() error {
	slog.Debug("writing JSON output", "filename", j.outfile, "entries", len(j.output))

	if dir := filepath.Dir(j.outfile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating output directory %s: %w", dir, err)
		}
	}

	writer, err := os.Create(j.outfile)
	if err != nil {
		return fmt.Errorf("error creating JSON file %s: %w", j.outfile, err)
	}
	defer writer.Close()

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", strings.Repeat(" ", j.indent))

	return encoder.Encode(j.output)
}

func (j *RuntimeJSONOutputter) Params() []cfg.Param {
	return []cfg.Param{
		cfg.NewParam[string]("jsonoutfile", "the default file to write the JSON to (can be changed at runtime)").WithDefault(defaultOutfile),
		cfg.NewParam[int]("indent", "the number of spaces to use for the JSON indentation").WithDefault(2),
	}
}
