package main

import "github.com/mselser95/polymarket-bot/cmd"

func main() {
	cmd.Execute()
}
