package main

import (
	"encoding/json"
	"flag"

	"github.com/pkg/errors"

	"github.com/pydep/pydep"
	"github.com/pydep/pydep/pps"
)

const parseShortHelp = `Show the structured form of requirement lines`
const parseLongHelp = `
Parse reads each argument as a pip-style requirement line, reports the
variant it maps to (named, file, or VCS), and prints the canonical line
the requirement serializes back to. Useful for checking what a line
actually means before putting it in a Pipfile.
`

type parseCommand struct {
	json bool
}

func (cmd *parseCommand) Name() string      { return "parse" }
func (cmd *parseCommand) Args() string      { return "<requirement>..." }
func (cmd *parseCommand) ShortHelp() string { return parseShortHelp }
func (cmd *parseCommand) LongHelp() string  { return parseLongHelp }
func (cmd *parseCommand) Hidden() bool      { return false }

func (cmd *parseCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&cmd.json, "json", false, "print the manifest entry as JSON")
}

func (cmd *parseCommand) Run(ctx *pydep.Ctx, args []string) error {
	if len(args) == 0 {
		return errors.New("parse needs at least one requirement line")
	}

	for _, line := range args {
		r, err := pps.FromLine(line)
		if err != nil {
			return errors.Wrapf(err, "parsing %q", line)
		}

		ctx.Out.Printf("%s:", line)
		ctx.Out.Printf("  variant:   %s", variantName(r))
		if r.Name() != "" {
			ctx.Out.Printf("  name:      %s", r.CanonicalName())
		}
		if m := r.Markers(); m != nil {
			ctx.Out.Printf("  markers:   %s", m.String())
		}
		if extras := r.Extras(); len(extras) > 0 {
			ctx.Out.Printf("  extras:    %v", extras)
		}
		ctx.Out.Printf("  canonical: %s", r.ToLine())

		if cmd.json {
			data, err := json.Marshal(r.ToManifest())
			if err != nil {
				return err
			}
			ctx.Out.Printf("  manifest:  %s", data)
		}
	}
	return nil
}

func variantName(r pps.Requirement) string {
	switch r.(type) {
	case *pps.NamedRequirement:
		return "named"
	case *pps.FileRequirement:
		return "file"
	case *pps.VCSRequirement:
		return "vcs"
	}
	return "unknown"
}
