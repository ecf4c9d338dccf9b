package main

import "github.com/frahmantamala/checkout/cmd"

func main() {
	cmd.Execute()
}
