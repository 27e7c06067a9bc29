package main

import (
	"flag"
	"fmt"

	"github.com/pydep/pydep"
)

const versionShortHelp = `Display version`
const versionLongHelp = `
Display version of this application.
`

const Version = "0.1.0"

type versionCommand struct {
}

func (cmd *versionCommand) Name() string      { return "version" }
func (cmd *versionCommand) Args() string      { return "" }
func (cmd *versionCommand) ShortHelp() string { return versionShortHelp }
func (cmd *versionCommand) LongHelp() string  { return versionLongHelp }
func (cmd *versionCommand) Hidden() bool      { return false }

func (cmd *versionCommand) Register(fs *flag.FlagSet) {
}

func (cmd *versionCommand) Run(ctx *pydep.Ctx, args []string) error {
	fmt.Println(Version)
	return nil
}
