// Package messages holds every user-visible text the bot sends.
package messages

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

//go:embed messages.yaml
var defaults []byte

type Errors struct {
	Transcode       string `yaml:"transcode"`
	API             string `yaml:"api"`
	Transport       string `yaml:"transport"`
	InvalidResponse string `yaml:"invalid_response"`
	Internal        string `yaml:"internal"`
}

// Catalog is the set of reply templates. Templates may reference
// {{text}}, {{detail}}, {{stage}} and {{limit}}.
type Catalog struct {
	Greeting     string `yaml:"greeting"`
	Help         string `yaml:"help"`
	Processing   string `yaml:"processing"`
	ContactingAI string `yaml:"contacting_ai"`
	Result       string `yaml:"result"`
	NoSpeech     string `yaml:"no_speech"`
	EmptyReply   string `yaml:"empty_reply"`
	TooLong      string `yaml:"too_long"`
	Unsupported  string `yaml:"unsupported"`
	Errors       Errors `yaml:"errors"`
}

// Vars are the placeholder values for Render.
type Vars struct {
	Text   string
	Detail string
	Stage  string
	Limit  int
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := parse(defaults, &Catalog{})
	if err != nil {
		panic(fmt.Sprintf("messages: embedded catalog: %v", err))
	}
	return c
}

// Load returns the embedded catalog with the keys present in path replacing
// the defaults. An empty path returns Default().
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages %s: %w", path, err)
	}
	override, err := parse(data, &Catalog{})
	if err != nil {
		return nil, fmt.Errorf("parse messages %s: %w", path, err)
	}
	c.merge(override)
	return c, nil
}

// merge copies every non-empty template of o into c.
func (c *Catalog) merge(o *Catalog) {
	for dst, src := range map[*string]string{
		&c.Greeting:               o.Greeting,
		&c.Help:                   o.Help,
		&c.Processing:             o.Processing,
		&c.ContactingAI:           o.ContactingAI,
		&c.Result:                 o.Result,
		&c.NoSpeech:               o.NoSpeech,
		&c.EmptyReply:             o.EmptyReply,
		&c.TooLong:                o.TooLong,
		&c.Unsupported:            o.Unsupported,
		&c.Errors.Transcode:       o.Errors.Transcode,
		&c.Errors.API:             o.Errors.API,
		&c.Errors.Transport:       o.Errors.Transport,
		&c.Errors.InvalidResponse: o.Errors.InvalidResponse,
		&c.Errors.Internal:        o.Errors.Internal,
	} {
		if src != "" {
			*dst = src
		}
	}
}

func parse(data []byte, into *Catalog) (*Catalog, error) {
	if err := yaml.UnmarshalWithOptions(data, into, yaml.Strict()); err != nil {
		return nil, err
	}
	return into, nil
}

// Render substitutes the placeholders in tmpl.
func Render(tmpl string, v Vars) string {
	return strings.NewReplacer(
		"{{text}}", v.Text,
		"{{detail}}", v.Detail,
		"{{stage}}", v.Stage,
		"{{limit}}", strconv.Itoa(v.Limit),
	).Replace(tmpl)
}
