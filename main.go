package main

import "github.com/optiease/edgechat/cmd"

func main() {
	cmd.Execute()
}
