package main

import (
	"github.com/andresmejia3/emoscan/cmd"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Execute()
}
