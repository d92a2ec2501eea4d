package main

import "github.com/ValentinKolb/idkv/cmd"

func main() {
	cmd.Execute()
}
