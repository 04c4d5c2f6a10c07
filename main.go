package main

import "github.com/manu343726/symctl/cmd/symctl"

func main() {
	symctl.Execute()
}
