package main

import "github.com/k2io/hookengine/cmd/hookscan/cmd"

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	cmd.AppVersion = version
	cmd.AppBuildTime = buildTime
	cmd.Execute()
}
