// Command jarpcd serves JARPC methods over TCP, HTTP and Redis queues, and
// calls them from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var version = "dev"

type CLI struct {
	EnvFile string `name:"env-file" help:"Load environment variables from this file if it exists" default:".env" type:"path"`

	Serve   ServeCmd   `cmd:"" help:"Run the server"`
	Call    CallCmd    `cmd:"" help:"Call a method on a running server"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	fmt.Println("jarpcd", version)
	return nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("jarpcd"),
		kong.Description("JARPC call-processing server"),
		kong.UsageOnError(),
	)
	// A missing .env is normal; only a malformed one is an error.
	if _, err := os.Stat(cli.EnvFile); err == nil {
		if err := godotenv.Load(cli.EnvFile); err != nil {
			ctx.Fatalf("load %s: %v", cli.EnvFile, err)
		}
	}
	ctx.FatalIfErrorf(ctx.Run())
}
