// Command docctl inspects and edits documents in a change store.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
)

func main() {
	flag.Set("logtostderr", "true")
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		glog.Flush()
		os.Exit(1)
	}
}
