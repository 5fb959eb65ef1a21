package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/cgs-simulator/core"
	"github.com/signalsfoundry/cgs-simulator/model"
)

// Format names a scenario encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// FormatFromPath picks the format by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	}
	return "", fmt.Errorf("unsupported scenario file extension %q", filepath.Ext(path))
}

// Load reads, decodes and validates the scenario at path. A referenced
// contact plan file is resolved relative to the scenario's directory.
func Load(path string) (*Scenario, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	f, err := Decode(data, format, path)
	if err != nil {
		return nil, err
	}
	return Resolve(f, filepath.Dir(path))
}

// Decode parses data without validating it. filename is used in HCL
// diagnostics.
func Decode(data []byte, format Format, filename string) (*File, error) {
	var f File
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode json scenario: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode yaml scenario: %w", err)
		}
	case FormatHCL:
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCL(data, filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
		}
		diags = gohcl.DecodeBody(file.Body, evalContext(), &f)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
		}
	default:
		return nil, fmt.Errorf("unsupported scenario format %q", format)
	}
	return &f, nil
}

// evalContext exposes time units so HCL scenarios can write "2 * hour".
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"second": cty.NumberIntVal(1),
			"minute": cty.NumberIntVal(60),
			"hour":   cty.NumberIntVal(3600),
			"day":    cty.NumberIntVal(86400),
		},
	}
}

// Resolve loads the referenced contact plan file, if any, and builds the
// scenario.
func Resolve(f *File, baseDir string) (*Scenario, error) {
	var extra []model.Contact
	if f.ContactPlanFile != "" {
		path := f.ContactPlanFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		epoch, err := parseEpoch(f.Epoch)
		if err != nil {
			return nil, err
		}
		r, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open contact plan: %w", err)
		}
		defer r.Close()
		extra, err = core.LoadIONContacts(r, epoch)
		if err != nil {
			return nil, fmt.Errorf("load contact plan %s: %w", path, err)
		}
	}
	return Build(f, extra)
}
