package main

import "github.com/deploymenttheory/go-hdf5arrays/cmd"

func main() {
	cmd.Execute()
}
