package main

import "github.com/jmcleod/patientportal/cmd/portal/cmd"

func main() {
	cmd.Execute()
}
