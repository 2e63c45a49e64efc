package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"shift2me/pkg/domain"
)

// Description is written at the top of every exported protocol file.
const Description = "This file defines a titration's initial parameters."

// Format names a protocol file encoding.
type Format string

// Supported protocol encodings.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat is returned for init files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported protocol file format")

// FormatFor picks the encoding from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s (accepted: .yml, .yaml, .json)", ErrUnsupportedFormat, path)
	}
}

// number accepts both numeric and quoted numeric scalars.
type number float64

func (n *number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(node.Value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("line %d: could not convert %q to a finite number", node.Line, node.Value)
	}
	*n = number(v)
	return nil
}

func (n *number) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("could not convert %s to a finite number", data)
	}
	*n = number(v)
	return nil
}

type reagentFile struct {
	Name          string `yaml:"name" json:"name"`
	Concentration number `yaml:"concentration" json:"concentration"`
}

type protocolFile struct {
	Description string      `yaml:"_description,omitempty" json:"_description,omitempty"`
	Name        string      `yaml:"name,omitempty" json:"name,omitempty"`
	Titrant     reagentFile `yaml:"titrant" json:"titrant"`
	Analyte     reagentFile `yaml:"analyte" json:"analyte"`
	StartVolume struct {
		Analyte number `yaml:"analyte" json:"analyte"`
		Total   number `yaml:"total" json:"total"`
	} `yaml:"start_volume" json:"start_volume"`
	Volumes []number `yaml:"add_volumes" json:"add_volumes"`
}

func (f protocolFile) protocol() domain.Protocol {
	p := domain.Protocol{
		Name:        f.Name,
		Titrant:     domain.Reagent{Name: f.Titrant.Name, Concentration: float64(f.Titrant.Concentration)},
		Analyte:     domain.Reagent{Name: f.Analyte.Name, Concentration: float64(f.Analyte.Concentration)},
		StartVolume: domain.StartVolume{Analyte: float64(f.StartVolume.Analyte), Total: float64(f.StartVolume.Total)},
		Volumes:     make([]float64, len(f.Volumes)),
	}
	for i, v := range f.Volumes {
		p.Volumes[i] = float64(v)
	}
	return p
}

// DecodeProtocol reads and validates a protocol. Unknown keys are rejected.
func DecodeProtocol(r io.Reader, format Format) (domain.Protocol, error) {
	var f protocolFile
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return domain.Protocol{}, errors.New("empty protocol file")
			}
			return domain.Protocol{}, fmt.Errorf("decode protocol: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return domain.Protocol{}, fmt.Errorf("decode protocol: %w", err)
		}
	default:
		return domain.Protocol{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	p := f.protocol()
	if err := p.Validate(); err != nil {
		return domain.Protocol{}, err
	}
	return p, nil
}

// LoadProtocolFile decodes the init file at path, choosing the format by extension.
func LoadProtocolFile(path string) (domain.Protocol, error) {
	format, err := FormatFor(path)
	if err != nil {
		return domain.Protocol{}, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return domain.Protocol{}, err
	}
	defer fh.Close()
	p, err := DecodeProtocol(fh, format)
	if err != nil {
		return domain.Protocol{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// EncodeProtocol writes p under the given name, preceded by the description key.
func EncodeProtocol(w io.Writer, name string, p domain.Protocol, format Format) error {
	p = p.WithDefaults()
	f := protocolFile{Description: Description, Name: name}
	f.Titrant = reagentFile{Name: p.Titrant.Name, Concentration: number(p.Titrant.Concentration)}
	f.Analyte = reagentFile{Name: p.Analyte.Name, Concentration: number(p.Analyte.Concentration)}
	f.StartVolume.Analyte = number(p.StartVolume.Analyte)
	f.StartVolume.Total = number(p.StartVolume.Total)
	f.Volumes = make([]number, len(p.Volumes))
	for i, v := range p.Volumes {
		f.Volumes[i] = number(v)
	}
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(4)
		if err := enc.Encode(f); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(f)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
