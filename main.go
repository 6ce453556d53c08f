package main

import "github.com/tanpawarit/grooming-reservation-agent/cmd"

func main() {
	cmd.Execute()
}
